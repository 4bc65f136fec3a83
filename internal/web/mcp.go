package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/m-mizutani/goerr/v2"

	"github.com/vbonduro/nutrilog/internal/domain"
	"github.com/vbonduro/nutrilog/internal/logging"
	"github.com/vbonduro/nutrilog/internal/nutrition"
)

// Tool parameters. Every tool takes session_id; an unknown or empty id starts
// a new session whose id is returned in the result, error results included.
type sessionParams struct {
	SessionID string `json:"session_id,omitempty" description:"Session returned by an earlier call"`
}

type credentialParams struct {
	sessionParams
	Credential string `json:"credential" description:"API key for the generation backend"`
}

type goalParams struct {
	sessionParams
	Goal string `json:"goal" description:"Nutrition goal for today"`
}

type imageParam struct {
	ImageBase64 string `json:"image_base64" description:"Base64 encoded image"`
	MIMEType    string `json:"mime_type,omitempty" description:"image/jpeg, image/png or image/heif"`
}

type analyzeMealParams struct {
	sessionParams
	imageParam
}

type homeDishesParams struct {
	sessionParams
	DietaryPreference string `json:"dietary_preference,omitempty" description:"e.g. vegetarian"`
}

type rankMenuParams struct {
	sessionParams
	DietaryPreference string       `json:"dietary_preference,omitempty" description:"e.g. vegetarian"`
	Menus             []imageParam `json:"menus" description:"One entry per menu page"`
}

// mcpTool runs one tool against the session named by the call's session_id.
type mcpTool func(ctx context.Context, sess *nutrition.Session, req *protocol.CallToolRequest) (any, error)

func (s *Server) mcpTools() map[string]mcpTool {
	return map[string]mcpTool{
		"supply_credential":   s.toolSupplyCredential,
		"set_goal":            s.toolSetGoal,
		"analyze_meal":        s.toolAnalyzeMeal,
		"list_meals":          s.toolListMeals,
		"suggest_home_dishes": s.toolHomeDishes,
		"rank_menu":           s.toolRankMenu,
		"close_day":           s.toolCloseDay,
	}
}

// handleMCP answers a single MCP tools/call request. Domain failures come back
// as a result with IsError set so the calling agent can show the notice; the
// result still carries session_id so a session created by the failing call can
// be reused.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	var request protocol.CallToolRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	tool, ok := s.mcpTools()[request.Name]
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown tool: %s", request.Name), http.StatusNotFound)
		return
	}

	result, err := s.callTool(r.Context(), tool, &request)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.logger.Error("failed to encode mcp response", logging.ErrAttr(err))
	}
}

// callTool resolves the session and runs tool. The returned error is only for
// results that could not be encoded.
func (s *Server) callTool(ctx context.Context, tool mcpTool, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params sessionParams
	if err := extractParams(req, &params); err != nil {
		s.logger.Warn("mcp tool failed", "tool", req.Name, logging.ErrAttr(err))
		return textResult(nutrition.NoticeFor(err).Text, true), nil
	}
	sess := s.mcpSession(params.SessionID)

	payload, err := tool(ctx, sess, req)
	if err != nil {
		s.logger.Warn("mcp tool failed", "tool", req.Name, "session_id", sess.ID, logging.ErrAttr(err))
		notice := nutrition.NoticeFor(err)
		result, merr := jsonResult(mcpError{SessionID: sess.ID, Level: string(notice.Level), Error: notice.Text})
		if merr != nil {
			return nil, merr
		}
		result.IsError = true
		return result, nil
	}
	return jsonResult(payload)
}

func textResult(text string, isError bool) *protocol.CallToolResult {
	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent{
				Type: "text",
				Text: text,
			},
		},
		IsError: isError,
	}
}

func jsonResult(data any) (*protocol.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return textResult(string(jsonBytes), false), nil
}

// extractParams converts the request arguments into target.
func extractParams(req *protocol.CallToolRequest, target any) error {
	jsonBytes, err := json.Marshal(req.Arguments)
	if err != nil {
		return goerr.Wrap(domain.ErrInput, "failed to read tool arguments", goerr.V("cause", err.Error()))
	}
	if err := json.Unmarshal(jsonBytes, target); err != nil {
		return goerr.Wrap(domain.ErrInput, "invalid tool arguments", goerr.V("cause", err.Error()))
	}
	return nil
}

func (s *Server) mcpSession(id string) *nutrition.Session {
	sess, _ := s.sessions.GetOrCreate(id)
	return sess
}

func decodeImage(name string, p imageParam) (nutrition.Upload, error) {
	data, err := base64.StdEncoding.DecodeString(p.ImageBase64)
	if err != nil {
		return nutrition.Upload{}, goerr.Wrap(domain.ErrInput, "invalid base64 in "+name)
	}
	mime, ok := uploadType(p.MIMEType, data)
	if !ok {
		return nutrition.Upload{}, goerr.Wrap(domain.ErrInput, "unsupported image type, use jpg, png or heif: "+name)
	}
	return nutrition.Upload{Filename: name, MIMEType: mime, Data: data}, nil
}

type mcpError struct {
	SessionID string `json:"session_id"`
	Level     string `json:"level"`
	Error     string `json:"error"`
}

type stateResult struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

func (s *Server) toolSupplyCredential(ctx context.Context, sess *nutrition.Session, req *protocol.CallToolRequest) (any, error) {
	var params credentialParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if err := s.pipeline.SupplyCredential(ctx, sess, params.Credential); err != nil {
		return nil, err
	}
	return stateResult{SessionID: sess.ID, State: sess.State().String()}, nil
}

func (s *Server) toolSetGoal(_ context.Context, sess *nutrition.Session, req *protocol.CallToolRequest) (any, error) {
	var params goalParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if err := sess.SetGoal(params.Goal); err != nil {
		return nil, err
	}
	return stateResult{SessionID: sess.ID, State: sess.State().String()}, nil
}

func (s *Server) toolAnalyzeMeal(ctx context.Context, sess *nutrition.Session, req *protocol.CallToolRequest) (any, error) {
	var params analyzeMealParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	upload, err := decodeImage("image", params.imageParam)
	if err != nil {
		return nil, err
	}
	report, err := s.pipeline.AnalyzeMeal(ctx, sess, upload)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"session_id":   sess.ID,
		"parsed":       report.Parsed,
		"inserted":     report.Inserted,
		"meal_name":    report.Analysis.MealName,
		"meal_summary": report.Analysis.MealSummary,
		"raw":          report.Raw,
	}, nil
}

func (s *Server) toolListMeals(_ context.Context, sess *nutrition.Session, _ *protocol.CallToolRequest) (any, error) {
	view := sess.Snapshot()

	meals := make([]map[string]string, 0, len(view.Meals))
	for _, m := range view.Meals {
		meals = append(meals, map[string]string{"name": m.Name, "summary": m.Summary})
	}
	return map[string]any{"session_id": sess.ID, "state": view.State.String(), "goal": view.Goal, "meals": meals}, nil
}

func (s *Server) toolHomeDishes(ctx context.Context, sess *nutrition.Session, req *protocol.CallToolRequest) (any, error) {
	var params homeDishesParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	text, err := s.pipeline.SuggestHomeDishes(ctx, sess, params.DietaryPreference)
	if err != nil {
		return nil, err
	}
	return map[string]string{"session_id": sess.ID, "text": text}, nil
}

func (s *Server) toolRankMenu(ctx context.Context, sess *nutrition.Session, req *protocol.CallToolRequest) (any, error) {
	var params rankMenuParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	menus := make([]nutrition.Upload, 0, len(params.Menus))
	for i, m := range params.Menus {
		upload, err := decodeImage(fmt.Sprintf("menu page %d", i+1), m)
		if err != nil {
			return nil, err
		}
		menus = append(menus, upload)
	}
	text, err := s.pipeline.RankMenu(ctx, sess, params.DietaryPreference, menus)
	if err != nil {
		return nil, err
	}
	return map[string]string{"session_id": sess.ID, "text": text}, nil
}

func (s *Server) toolCloseDay(ctx context.Context, sess *nutrition.Session, _ *protocol.CallToolRequest) (any, error) {
	report, err := s.pipeline.CloseDay(ctx, sess, nil)
	if err != nil {
		return nil, err
	}

	sections := make([]sectionView, 0, len(report.Sections))
	for _, sec := range report.Sections {
		sections = append(sections, newSectionView(sec))
	}
	return map[string]any{
		"session_id": sess.ID,
		"sections":   sections,
		"cleared":    report.Cleared,
		"archive_id": report.ArchiveID,
	}, nil
}
