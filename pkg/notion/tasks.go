package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/caseworks/docpipe/internal/model"
)

// TaskSink publishes pipeline actions as pages in a Notion tasks database.
type TaskSink struct {
	client Client
	dbID   string
}

// NewTaskSink creates a TaskSink writing to the given database.
func NewTaskSink(client Client, dbID string) *TaskSink {
	return &TaskSink{client: client, dbID: dbID}
}

func (s *TaskSink) Name() string { return "notion" }

// Push creates one task page for the action.
func (s *TaskSink) Push(ctx context.Context, action model.Action) error {
	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Title: []notionapi.RichText{{Text: &notionapi.Text{Content: action.Title}}},
		},
		"Type": notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(action.Type)},
		},
		"Case": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: action.CaseID}}},
		},
	}
	if action.Detail != "" {
		props["Detail"] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: action.Detail}}},
		}
	}
	if action.DueDate != nil {
		due := notionapi.Date(*action.DueDate)
		props["Due"] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &due},
		}
	}

	_, err := s.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(s.dbID),
		},
		Properties: props,
	})
	if err != nil {
		return eris.Wrapf(err, "notion: push action %s", action.ID)
	}
	return nil
}
