package routes

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/kiwi-support/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/query"
)

// SuggestionConfidence is the confidence an answer needs before follow-up
// questions are suggested for it.
const SuggestionConfidence = 0.7

// PostKnowledgeChatHandler answers a customer question from the knowledge
// base. Pass ?trace=true to include the retrieval trace.
func PostKnowledgeChatHandler(c echo.Context) error {
	type chatBody struct {
		UserID  string         `json:"userId" validate:"required"`
		Text    string         `json:"text"`
		Context map[string]any `json:"context"`
		TopK    int            `json:"top_k" validate:"gte=0,lte=20"`
	}

	type chatResponse struct {
		Reply            string                    `json:"reply"`
		Citations        []string                  `json:"citations"`
		Confidence       float64                   `json:"confidence"`
		SuggestedReplies []string                  `json:"suggested_replies"`
		GraphEntities    []string                  `json:"graph_entities"`
		Trace            *query.QueryTraceSnapshot `json:"trace,omitempty"`
	}

	data := new(chatBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
	}

	ctx := c.Request().Context()
	core := c.(*middleware.AppContext).App.Core

	var trace *query.QueryTrace
	var tracer query.Tracer
	if withTrace, _ := strconv.ParseBool(c.QueryParam("trace")); withTrace {
		trace = query.NewQueryTrace()
		tracer = trace
	}

	result := core.QueryWithTrace(ctx, data.Text, data.TopK, tracer)

	suggestions := []string{}
	if result.Confidence > SuggestionConfidence {
		suggestions = core.SuggestFollowUps(ctx, result.Answer)
	}

	logger.Debug("Answered knowledge chat", "user_id", data.UserID, "confidence", result.Confidence, "sources", len(result.Sources))

	res := chatResponse{
		Reply:            result.Answer,
		Citations:        result.Sources,
		Confidence:       result.Confidence,
		SuggestedReplies: suggestions,
		GraphEntities:    result.GraphEntities,
	}
	if trace != nil {
		snap := trace.Snapshot()
		res.Trace = &snap
	}
	return c.JSON(http.StatusOK, res)
}
