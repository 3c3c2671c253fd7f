package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/hdrnode/internal/logging"
)

type logsRequest struct {
	Limit  int    `query:"limit" default:"200" minimum:"1" maximum:"1000" doc:"Maximum number of entries"`
	Module string `query:"module" example:"aec" doc:"Only entries from this module"`
	Level  string `query:"level" enum:"debug,info,warn,error" doc:"Minimum level"`
}

type logsResponse struct {
	Body struct {
		Entries []logging.LogEntry `json:"entries" doc:"Buffered log entries, oldest first"`
		Count   int                `json:"count" example:"42" doc:"Number of entries returned"`
	}
}

func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent Logs",
		Description: "Newest entries from the in-memory log buffer",
		Tags:        []string{"system"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, input *logsRequest) (*logsResponse, error) {
		resp := &logsResponse{}
		resp.Body.Entries = []logging.LogEntry{}
		if buffer := logging.GetBuffer(); buffer != nil {
			resp.Body.Entries = buffer.Tail(input.Limit, input.Module, input.Level)
		}
		resp.Body.Count = len(resp.Body.Entries)
		return resp, nil
	})
}
