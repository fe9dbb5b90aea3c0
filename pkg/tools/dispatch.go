package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/teslashibe/go-voicebridge/internal/httpc"
)

// LogFunc receives tool observability records.
type LogFunc func(Log)

// Dispatch runs a tool and always returns an output object suitable for the
// upstream function_call_output item. Failures become {"error": message}.
// notify, when non-nil, is called before and after the call.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any, notify LogFunc) map[string]any {
	if args == nil {
		args = map[string]any{}
	}
	emit := func(status, msg string) {
		if notify != nil {
			notify(Log{Name: name, Status: status, Args: args, Message: msg, Timestamp: time.Now()})
		}
	}

	emit(StatusStarted, "")
	out, err := d.Invoke(ctx, name, args)
	if err != nil {
		d.logger.Warn("tool call failed", "tool", name, "error", err)
		msg := err.Error()
		if errors.Is(err, ErrUnknownTool) {
			msg = "Unknown tool: " + name
		}
		emit(StatusFailed, msg)
		return map[string]any{"error": msg}
	}
	emit(StatusSucceeded, "")
	return out
}

// Invoke resolves and executes a tool without folding errors.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	def, ok := d.defs[name]
	if !ok {
		return nil, ErrUnknownTool
	}
	if def.Routes != nil && def.Routes.Path != "" && d.cfg.BaseURL != "" {
		return d.callHTTP(ctx, def, args)
	}
	d.logger.Debug("simulating tool", "tool", name)
	return Simulate(name, args), nil
}

// BuildRequest substitutes :param path segments and encodes the remaining
// arguments as a query string (GET/HEAD) or JSON body.
func (d *Dispatcher) BuildRequest(ctx context.Context, route Route, args map[string]any) (*http.Request, error) {
	method := strings.ToUpper(route.Method)
	if method == "" {
		method = http.MethodGet
	}

	rest := make(map[string]any, len(args))
	for k, v := range args {
		rest[k] = v
	}

	segments := strings.Split(route.Path, "/")
	for i, seg := range segments {
		if !strings.HasPrefix(seg, ":") {
			continue
		}
		key := seg[1:]
		v, ok := rest[key]
		if !ok || v == nil || fmt.Sprint(v) == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingPathParam, key)
		}
		segments[i] = url.PathEscape(fmt.Sprint(v))
		delete(rest, key)
	}
	target := strings.TrimRight(d.cfg.BaseURL, "/") + "/" + strings.TrimLeft(strings.Join(segments, "/"), "/")

	var body io.Reader
	if method == http.MethodGet || method == http.MethodHead {
		if len(rest) > 0 {
			q := url.Values{}
			for k, v := range rest {
				q.Set(k, stringify(v))
			}
			target += "?" + q.Encode()
		}
	} else {
		data, err := sonic.Marshal(rest)
		if err != nil {
			return nil, fmt.Errorf("tools: encode body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := httpc.NewRequest(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("tools: build request: %w", err)
	}
	httpc.SetBearer(req, d.cfg.Token)
	return req, nil
}

func (d *Dispatcher) callHTTP(ctx context.Context, def Definition, args map[string]any) (map[string]any, error) {
	req, err := d.BuildRequest(ctx, *def.Routes, args)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("calling tool API", "tool", def.Name, "method", req.Method, "url", req.URL.String())

	resp, err := d.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tools: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: httpc.ReadErrorBody(resp.Body)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tools: read response: %w", err)
	}
	return decodeResponse(resp.Header.Get("Content-Type"), resp.StatusCode, data), nil
}

func decodeResponse(contentType string, status int, data []byte) map[string]any {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{"ok": true, "status": status}
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if strings.HasSuffix(mediaType, "json") {
		var v any
		if err := sonic.Unmarshal(data, &v); err == nil {
			if obj, ok := v.(map[string]any); ok {
				return obj
			}
			return map[string]any{"data": v}
		}
	}
	return map[string]any{"text": string(data)}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case map[string]any, []any:
		data, _ := sonic.Marshal(t)
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}
