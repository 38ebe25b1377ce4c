package service

import (
	"encoding/json"
	"time"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/app"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/chat"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/instance"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/memory"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/runlog"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/upload"
)

type (
	// AppBody is the JSON form of an app.
	AppBody struct {
		ID               string        `json:"id"`
		Name             string        `json:"name"`
		Description      string        `json:"description,omitempty"`
		Version          string        `json:"version"`
		Status           app.Status    `json:"status"`
		FlowDefinitionID string        `json:"flow_definition_id"`
		Memory           memory.Config `json:"memory"`
		PreviewOf        string        `json:"preview_of,omitempty"`
		CreatedAt        time.Time     `json:"created_at"`
		UpdatedAt        time.Time     `json:"updated_at"`
	}

	createAppBody struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Graph       json.RawMessage `json:"graph"`
		Memory      memory.Config   `json:"memory"`
	}

	updateAppBody struct {
		Name        *string         `json:"name"`
		Description *string         `json:"description"`
		Graph       json.RawMessage `json:"graph"`
		Memory      *memory.Config  `json:"memory"`
	}

	publishBody struct {
		Version string `json:"version"`
	}

	// InstanceBody is the JSON form of an instance.
	InstanceBody struct {
		ID          string          `json:"id"`
		AppID       string          `json:"app_id"`
		AppVersion  string          `json:"app_version,omitempty"`
		ParentID    string          `json:"parent_id,omitempty"`
		ChatID      string          `json:"chat_id,omitempty"`
		TraceID     string          `json:"trace_id,omitempty"`
		Status      instance.Status `json:"status"`
		FormID      string          `json:"form_id,omitempty"`
		FormVersion string          `json:"form_version,omitempty"`
		Question    string          `json:"question,omitempty"`
		Business    map[string]any  `json:"business,omitempty"`
		StartTime   time.Time       `json:"start_time"`
		EndTime     *time.Time      `json:"end_time,omitempty"`
	}

	createInstanceBody struct {
		InstanceID string         `json:"instance_id"`
		ChatID     string         `json:"chat_id"`
		ParentID   string         `json:"parent_id"`
		Question   string         `json:"question"`
		Files      []string       `json:"files"`
		Business   map[string]any `json:"business"`
		// Wait blocks until the instance finishes. TimeoutMS bounds the
		// wait; zero uses the server default.
		Wait      bool  `json:"wait"`
		TimeoutMS int64 `json:"timeout_ms"`
	}

	createInstanceResult struct {
		Instance       InstanceBody  `json:"instance"`
		AwaitingMemory bool          `json:"awaiting_memory,omitempty"`
		Candidates     []memory.Turn `json:"candidates,omitempty"`
	}

	resumeBody struct {
		FormData map[string]any `json:"form_data"`
	}

	memoryBody struct {
		InstanceIDs []string `json:"instance_ids"`
	}

	statusBody struct {
		Status      instance.Status `json:"status"`
		FormID      string          `json:"form_id"`
		FormVersion string          `json:"form_version"`
		Output      string          `json:"output"`
		Error       string          `json:"error"`
	}

	appendLogBody struct {
		Type    runlog.LogType  `json:"type"`
		Payload json.RawMessage `json:"payload"`
		Final   bool            `json:"final"`
	}

	// LogBody is the JSON form of a log record.
	LogBody struct {
		ID         string          `json:"id"`
		InstanceID string          `json:"instance_id"`
		Type       runlog.LogType  `json:"type"`
		Path       string          `json:"path"`
		Payload    json.RawMessage `json:"payload,omitempty"`
		Final      bool            `json:"final,omitempty"`
		CreatedAt  time.Time       `json:"created_at"`
	}

	logPageBody struct {
		Records    []LogBody `json:"records"`
		NextCursor string    `json:"next_cursor,omitempty"`
	}

	// ChatTurnBody is the JSON form of a conversation turn.
	ChatTurnBody struct {
		ID         string    `json:"id"`
		AppID      string    `json:"app_id,omitempty"`
		InstanceID string    `json:"instance_id"`
		Question   string    `json:"question"`
		Answer     string    `json:"answer"`
		CreatedAt  time.Time `json:"created_at"`
	}

	shareBody struct {
		AppID string `json:"app_id"`
		// Turns limits the shared history to the most recent turns.
		Turns int `json:"turns"`
	}

	// FileBody is the JSON form of an upload record.
	FileBody struct {
		ID          string    `json:"id"`
		AppID       string    `json:"app_id"`
		Name        string    `json:"name"`
		URL         string    `json:"url"`
		ContentType string    `json:"content_type,omitempty"`
		Size        int64     `json:"size"`
		CreatedAt   time.Time `json:"created_at"`
	}
)

func appBody(a app.App) AppBody {
	return AppBody{
		ID:               a.ID,
		Name:             a.Name,
		Description:      a.Description,
		Version:          a.Version,
		Status:           a.Status,
		FlowDefinitionID: a.FlowDefinitionID,
		Memory:           a.Memory,
		PreviewOf:        a.PreviewOf,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

func instanceBody(i instance.Instance) InstanceBody {
	return InstanceBody{
		ID:          i.ID,
		AppID:       i.AppID,
		AppVersion:  i.AppVersion,
		ParentID:    i.ParentID,
		ChatID:      i.ChatID,
		TraceID:     i.TraceID,
		Status:      i.Status,
		FormID:      i.FormID,
		FormVersion: i.FormVersion,
		Question:    i.Question,
		Business:    i.Business,
		StartTime:   i.StartTime,
		EndTime:     i.EndTime,
	}
}

func logBody(r *runlog.Record) LogBody {
	return LogBody{
		ID:         r.ID,
		InstanceID: r.InstanceID,
		Type:       r.Type,
		Path:       r.Path.String(),
		Payload:    r.Payload,
		Final:      r.Final,
		CreatedAt:  r.CreatedAt,
	}
}

func logBodies(recs []*runlog.Record) []LogBody {
	out := make([]LogBody, 0, len(recs))
	for _, r := range recs {
		out = append(out, logBody(r))
	}
	return out
}

func chatTurnBody(r chat.Record) ChatTurnBody {
	return ChatTurnBody{
		ID:         r.ID,
		AppID:      r.AppID,
		InstanceID: r.InstanceID,
		Question:   r.Question,
		Answer:     r.Answer,
		CreatedAt:  r.CreatedAt,
	}
}

func fileBody(f upload.File) FileBody {
	return FileBody{
		ID:          f.ID,
		AppID:       f.AppID,
		Name:        f.Name,
		URL:         f.URL,
		ContentType: f.ContentType,
		Size:        f.Size,
		CreatedAt:   f.CreatedAt,
	}
}
