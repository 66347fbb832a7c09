package main

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/wolfman30/appointment-orchestrator/cmd/mainconfig"
	"github.com/wolfman30/appointment-orchestrator/internal/app/bootstrap"
	appconfig "github.com/wolfman30/appointment-orchestrator/internal/config"
	"github.com/wolfman30/appointment-orchestrator/internal/gateway"
	httpmiddleware "github.com/wolfman30/appointment-orchestrator/internal/http/middleware"
	"github.com/wolfman30/appointment-orchestrator/internal/tenancy"
	"github.com/wolfman30/appointment-orchestrator/pkg/logging"
)

const (
	agentMessageVersion = "1.0"
	contentTypeJSON     = "application/json"
	tenantSessionKey    = "tenant_id"
)

// invoker is the slice of the gateway the Lambda needs.
type invoker interface {
	Invoke(ctx context.Context, action string, payload []byte) (int, any)
}

// agentParameter is one named value in an action-group call.
type agentParameter struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// agentEvent is the action-group invocation sent by the conversational agent.
type agentEvent struct {
	MessageVersion string           `json:"messageVersion"`
	ActionGroup    string           `json:"actionGroup"`
	APIPath        string           `json:"apiPath,omitempty"`
	HTTPMethod     string           `json:"httpMethod,omitempty"`
	Function       string           `json:"function,omitempty"`
	Parameters     []agentParameter `json:"parameters,omitempty"`
	RequestBody    *struct {
		Content map[string]struct {
			Properties []agentParameter `json:"properties"`
		} `json:"content"`
	} `json:"requestBody,omitempty"`
	SessionAttributes       map[string]string `json:"sessionAttributes,omitempty"`
	PromptSessionAttributes map[string]string `json:"promptSessionAttributes,omitempty"`
}

type agentResponse struct {
	MessageVersion          string            `json:"messageVersion"`
	Response                agentResult       `json:"response"`
	SessionAttributes       map[string]string `json:"sessionAttributes,omitempty"`
	PromptSessionAttributes map[string]string `json:"promptSessionAttributes,omitempty"`
}

type agentResult struct {
	ActionGroup      string            `json:"actionGroup"`
	APIPath          string            `json:"apiPath,omitempty"`
	HTTPMethod       string            `json:"httpMethod,omitempty"`
	HTTPStatusCode   int               `json:"httpStatusCode,omitempty"`
	ResponseBody     map[string]bodyV  `json:"responseBody,omitempty"`
	Function         string            `json:"function,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
}

type functionResponse struct {
	ResponseState string           `json:"responseState,omitempty"`
	ResponseBody  map[string]bodyV `json:"responseBody"`
}

type bodyV struct {
	Body string `json:"body"`
}

// eventProbe tells the two supported event shapes apart.
type eventProbe struct {
	ActionGroup    string          `json:"actionGroup"`
	RawPath        string          `json:"rawPath"`
	RequestContext json.RawMessage `json:"requestContext"`
}

type handler struct {
	gateway invoker
	token   string
	logger  *logging.Logger
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()
	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{
		Logger: logger,
		LoadAWS: func(ctx context.Context) (aws.Config, error) {
			return mainconfig.LoadAWSConfig(ctx, cfg)
		},
	})
	if err != nil {
		logger.Error("failed to build application", "error", err)
		panic(err)
	}
	if cfg.SeedDemoSlots {
		if _, err := app.SeedDemoSlots(ctx); err != nil {
			logger.Error("failed to seed demo slots", "error", err)
		}
	}

	h := &handler{gateway: app.Gateway, token: cfg.ActionsAPIToken, logger: logger}
	lambda.Start(func(ctx context.Context, raw json.RawMessage) (any, error) {
		out, err := h.handle(ctx, raw)
		// Lambda may freeze the process once we return.
		app.Drain()
		return out, err
	})
}

func (h *handler) handle(ctx context.Context, raw json.RawMessage) (any, error) {
	var probe eventProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("action-lambda: decode event: %w", err)
	}
	switch {
	case probe.ActionGroup != "":
		var evt agentEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, fmt.Errorf("action-lambda: decode agent event: %w", err)
		}
		return h.handleAgent(ctx, evt)
	case probe.RawPath != "" || len(probe.RequestContext) > 0:
		var evt events.APIGatewayV2HTTPRequest
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, fmt.Errorf("action-lambda: decode http event: %w", err)
		}
		return h.handleHTTP(ctx, evt), nil
	default:
		return nil, fmt.Errorf("action-lambda: unrecognised event")
	}
}

func (h *handler) handleAgent(ctx context.Context, evt agentEvent) (agentResponse, error) {
	action := evt.Function
	if action == "" {
		action = strings.Trim(evt.APIPath, "/")
		if i := strings.LastIndex(action, "/"); i >= 0 {
			action = action[i+1:]
		}
	}

	params := make(map[string]string)
	for _, p := range evt.Parameters {
		params[gateway.CanonicalField(p.Name)] = p.Value
	}
	if evt.RequestBody != nil {
		for _, p := range evt.RequestBody.Content[contentTypeJSON].Properties {
			params[gateway.CanonicalField(p.Name)] = p.Value
		}
	}
	if id := sessionTenant(evt); id != "" {
		ctx = tenancy.WithTenantID(ctx, id)
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return agentResponse{}, fmt.Errorf("action-lambda: encode parameters: %w", err)
	}
	status, body := h.gateway.Invoke(ctx, action, payload)
	encoded, err := json.Marshal(body)
	if err != nil {
		return agentResponse{}, fmt.Errorf("action-lambda: encode result: %w", err)
	}
	h.logger.Info("agent action handled", "action_group", evt.ActionGroup, "action", action, "status", status)

	out := agentResponse{
		MessageVersion:          agentMessageVersion,
		SessionAttributes:       evt.SessionAttributes,
		PromptSessionAttributes: evt.PromptSessionAttributes,
		Response:                agentResult{ActionGroup: evt.ActionGroup},
	}
	if evt.Function != "" {
		out.Response.Function = evt.Function
		out.Response.FunctionResponse = &functionResponse{
			ResponseBody: map[string]bodyV{"TEXT": {Body: string(encoded)}},
		}
		if status >= http.StatusInternalServerError {
			out.Response.FunctionResponse.ResponseState = "FAILURE"
		}
		return out, nil
	}
	out.Response.APIPath = evt.APIPath
	out.Response.HTTPMethod = evt.HTTPMethod
	out.Response.HTTPStatusCode = status
	out.Response.ResponseBody = map[string]bodyV{contentTypeJSON: {Body: string(encoded)}}
	return out, nil
}

func sessionTenant(evt agentEvent) string {
	if id := strings.TrimSpace(evt.SessionAttributes[tenantSessionKey]); id != "" {
		return id
	}
	return strings.TrimSpace(evt.PromptSessionAttributes[tenantSessionKey])
}

func (h *handler) handleHTTP(ctx context.Context, evt events.APIGatewayV2HTTPRequest) events.APIGatewayV2HTTPResponse {
	method := strings.ToUpper(strings.TrimSpace(evt.RequestContext.HTTP.Method))
	path := strings.TrimSpace(evt.RawPath)
	if path == "" {
		path = strings.TrimSpace(evt.RequestContext.HTTP.Path)
	}

	if path == "/health" || path == "/_health" {
		return jsonResponse(http.StatusOK, map[string]string{"status": "ok"})
	}
	if method != http.MethodPost {
		return jsonResponse(http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
	action, ok := actionFromPath(path)
	if !ok {
		return jsonResponse(http.StatusNotFound, map[string]string{"error": "not found"})
	}
	if h.token != "" && subtle.ConstantTimeCompare([]byte(bearerOrKey(evt.Headers)), []byte(h.token)) != 1 {
		return jsonResponse(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}

	body, err := decodeBody(evt)
	if err != nil {
		return jsonResponse(http.StatusBadRequest, map[string]string{"error": "invalid body"})
	}
	if id := strings.TrimSpace(headerValue(evt.Headers, httpmiddleware.TenantHeader)); id != "" {
		ctx = tenancy.WithTenantID(ctx, id)
	}

	status, out := h.gateway.Invoke(ctx, action, body)
	h.logger.Info("http action handled", "action", action, "status", status)
	return jsonResponse(status, out)
}

// actionFromPath accepts /actions/{name} with any stage or version prefix.
func actionFromPath(path string) (string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[len(parts)-2] != "actions" || parts[len(parts)-1] == "" {
		return "", false
	}
	return parts[len(parts)-1], true
}

func bearerOrKey(headers map[string]string) string {
	if auth := headerValue(headers, "authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(headerValue(headers, "x-api-key"))
}

func jsonResponse(status int, v any) events.APIGatewayV2HTTPResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusInternalServerError}
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Body:       string(body),
		Headers:    map[string]string{"content-type": contentTypeJSON},
	}
}

func decodeBody(evt events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !evt.IsBase64Encoded {
		return []byte(evt.Body), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(evt.Body)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
