package bridge

import (
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/dshills/cmdcenter/internal/failure"
	"github.com/dshills/cmdcenter/internal/service"
)

// CodePluginError is reported for errors raised by plugin service methods.
const CodePluginError = "PluginError"

// Request is one bridge call.
type Request struct {
	ID      string          `json:"id"`
	Op      Op              `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewRequest builds a request with a fresh id, marshaling payload.
func NewRequest(op Op, payload any) (Request, error) {
	req := Request{ID: uuid.NewString(), Op: op}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Request{}, err
		}
		req.Payload = raw
	}
	return req, nil
}

// DecodeRequest parses a request envelope. A missing id is replaced with a
// generated one so the reply can still be correlated in logs.
func DecodeRequest(data []byte) (Request, error) {
	if !gjson.ValidBytes(data) {
		return Request{}, failure.New(failure.InvalidRequest, "decode", "", "envelope is not valid JSON")
	}
	env := gjson.ParseBytes(data)
	if !env.IsObject() {
		return Request{}, failure.New(failure.InvalidRequest, "decode", "", "envelope must be an object")
	}

	req := Request{
		ID: env.Get("id").String(),
		Op: Op(env.Get("op").String()),
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if p := env.Get("payload"); p.Exists() {
		req.Payload = json.RawMessage(p.Raw)
	}
	if req.Op == "" {
		return req, failure.New(failure.InvalidRequest, "decode", req.ID, "envelope has no op")
	}
	return req, nil
}

// ErrorBody is the structured failure reported to surfaces.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response answers one Request.
type Response struct {
	ID     string
	OK     bool
	Result any
	Error  *ErrorBody
}

// MarshalJSON writes {"id","ok","result"} or {"id","ok","error"}.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.OK {
		return json.Marshal(struct {
			ID     string `json:"id"`
			OK     bool   `json:"ok"`
			Result any    `json:"result"`
		}{r.ID, true, r.Result})
	}
	return json.Marshal(struct {
		ID    string     `json:"id"`
		OK    bool       `json:"ok"`
		Error *ErrorBody `json:"error"`
	}{r.ID, false, r.Error})
}

// UnmarshalJSON reads either response shape.
func (r *Response) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID     string     `json:"id"`
		OK     bool       `json:"ok"`
		Result any        `json:"result"`
		Error  *ErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = Response{ID: wire.ID, OK: wire.OK, Result: wire.Result, Error: wire.Error}
	return nil
}

func success(id string, result any) Response {
	return Response{ID: id, OK: true, Result: result}
}

func failed(id string, err error) Response {
	return Response{ID: id, Error: errorBody(err)}
}

// errorBody reports plugin errors with their raised message and host
// failures with their code and cause.
func errorBody(err error) *ErrorBody {
	var pe *service.PluginError
	if errors.As(err, &pe) {
		return &ErrorBody{Code: CodePluginError, Message: pe.Message}
	}
	var fe *failure.Error
	if errors.As(err, &fe) {
		return &ErrorBody{Code: string(fe.Code), Message: fe.Message()}
	}
	return &ErrorBody{Code: string(failure.Internal), Message: err.Error()}
}

// Event is a server-initiated message to surfaces.
type Event struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// payload reads fields of a request payload.
type payload struct {
	op Op
	gjson.Result
}

func parsePayload(req Request) payload {
	if len(req.Payload) == 0 {
		return payload{op: req.Op}
	}
	return payload{op: req.Op, Result: gjson.ParseBytes(req.Payload)}
}

// str returns a string field, or "" when absent.
func (p payload) str(key string) string {
	return p.Get(key).String()
}

// required returns a non-empty string field.
func (p payload) required(key string) (string, error) {
	v := p.Get(key)
	if !v.Exists() || v.Type == gjson.Null {
		return "", failure.New(failure.InvalidRequest, p.op.String(), key, "missing field %q", key)
	}
	if v.Type != gjson.String {
		return "", failure.New(failure.InvalidRequest, p.op.String(), key, "field %q must be a string", key)
	}
	if v.Str == "" {
		return "", failure.New(failure.InvalidRequest, p.op.String(), key, "field %q is empty", key)
	}
	return v.Str, nil
}

// stringValue accepts a string or a scalar, rendered as text.
func (p payload) stringValue(key string) (string, error) {
	v := p.Get(key)
	switch v.Type {
	case gjson.String:
		return v.Str, nil
	case gjson.Number, gjson.True, gjson.False:
		return v.Raw, nil
	case gjson.Null:
		if v.Exists() {
			return "", nil
		}
	}
	if v.IsObject() || v.IsArray() {
		return v.Raw, nil
	}
	return "", failure.New(failure.InvalidRequest, p.op.String(), key, "missing field %q", key)
}

// params returns the positional SQL parameters.
func (p payload) params() ([]any, error) {
	v := p.Get("params")
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	if !v.IsArray() {
		return nil, failure.New(failure.InvalidRequest, p.op.String(), "params", "params must be an array")
	}
	arr := v.Array()
	out := make([]any, len(arr))
	for i, e := range arr {
		out[i] = jsonValue(e)
		if _, nested := out[i].(map[string]any); nested {
			return nil, failure.New(failure.InvalidRequest, p.op.String(), "params", "parameter %d is an object", i)
		}
		if _, nested := out[i].([]any); nested {
			return nil, failure.New(failure.InvalidRequest, p.op.String(), "params", "parameter %d is an array", i)
		}
	}
	return out, nil
}

// jsonValue converts a gjson value to Go, keeping integers as int64.
func jsonValue(r gjson.Result) any {
	switch {
	case r.Type == gjson.Number:
		if !strings.ContainsAny(r.Raw, ".eE") && r.Num >= math.MinInt64 && r.Num <= math.MaxInt64 {
			return r.Int()
		}
		return r.Num
	case r.IsArray():
		arr := r.Array()
		out := make([]any, len(arr))
		for i, e := range arr {
			out[i] = jsonValue(e)
		}
		return out
	case r.IsObject():
		out := make(map[string]any)
		r.ForEach(func(k, v gjson.Result) bool {
			out[k.String()] = jsonValue(v)
			return true
		})
		return out
	default:
		return r.Value()
	}
}
