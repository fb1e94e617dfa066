package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

const versionLiteral = "2.0"

var (
	ErrInvalidVersion = errors.New("jsonrpc: version must be \"2.0\"")
	ErrMissingMember  = errors.New("jsonrpc: missing member")
	ErrMethodMismatch = errors.New("jsonrpc: method does not match")
	ErrInvalidID      = errors.New("jsonrpc: id must be an integer or a string")
	ErrNotObject      = errors.New("jsonrpc: envelope must be an object")
	ErrDuplicateKey   = errors.New("jsonrpc: duplicate member")
)

// Method binds a JSON-RPC method name to the shape of its params (P) and
// its result (R). The result uses the method's own encoding instead of the
// default JSON encoding of R.
type Method[P, R any] interface {
	Name() string
	EncodeResult(result R) ([]byte, error)
	DecodeResult(data []byte) (R, error)
}

// Version is the "jsonrpc" member. It only ever holds "2.0", so the zero
// value is ready to use.
type Version struct{}

func (Version) MarshalJSON() ([]byte, error) {
	return []byte(`"` + versionLiteral + `"`), nil
}

func (*Version) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return ErrInvalidVersion
	}
	if v != versionLiteral {
		return ErrInvalidVersion
	}
	return nil
}

// ID is a request identifier, either an integer or a string.
type ID struct {
	num   int64
	str   string
	isStr bool
}

func NumberID(n int64) ID {
	return ID{num: n}
}

func StringID(s string) ID {
	return ID{str: s, isStr: true}
}

func (id ID) IsString() bool {
	return id.isStr
}

func (id ID) String() string {
	if id.isStr {
		return strconv.Quote(id.str)
	}
	return strconv.FormatInt(id.num, 10)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return strconv.AppendInt(nil, id.num, 10), nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return ErrInvalidID
		}
		*id = StringID(s)
		return nil
	}

	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return ErrInvalidID
	}
	*id = NumberID(n)
	return nil
}

// Error is the error object of a JSON-RPC response.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// DecodeError reports which member of an envelope failed to decode.
type DecodeError struct {
	Member string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("jsonrpc: decoding %q: %v", e.Member, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// envelope holds the raw members of a request or a response. A member that
// is absent from the input stays nil.
type envelope struct {
	Version json.RawMessage
	Method  json.RawMessage
	Params  json.RawMessage
	Result  json.RawMessage
	Error   json.RawMessage
	ID      json.RawMessage
}

// members splits a JSON object into its members. Keys are matched exactly,
// unlike encoding/json struct fields, and a repeated key is an error.
func members(data []byte) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, ErrNotObject
	}

	m := map[string]json.RawMessage{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, ErrNotObject
		}
		if _, ok := m[key]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, key)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		m[key] = raw
	}

	// closing brace
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("jsonrpc: trailing data after envelope")
	}

	return m, nil
}

func parseEnvelope(data []byte) (*envelope, error) {
	m, err := members(data)
	if err != nil {
		return nil, &DecodeError{Member: "envelope", Err: err}
	}

	env := &envelope{
		Version: m["jsonrpc"],
		Method:  m["method"],
		Params:  m["params"],
		Result:  m["result"],
		Error:   m["error"],
		ID:      m["id"],
	}

	if env.Version == nil {
		return nil, &DecodeError{Member: "jsonrpc", Err: ErrMissingMember}
	}
	var v Version
	if err := v.UnmarshalJSON(env.Version); err != nil {
		return nil, &DecodeError{Member: "jsonrpc", Err: err}
	}

	return env, nil
}

func (env *envelope) id() (ID, error) {
	var id ID
	if env.ID == nil {
		return id, &DecodeError{Member: "id", Err: ErrMissingMember}
	}
	if err := id.UnmarshalJSON(env.ID); err != nil {
		return id, &DecodeError{Member: "id", Err: err}
	}
	return id, nil
}

// Request is a JSON-RPC request for the method M.
type Request[P, R any] struct {
	Version Version
	Method  Method[P, R]
	Params  P
	ID      ID
}

func NewRequest[P, R any](m Method[P, R], params P, id ID) *Request[P, R] {
	return &Request[P, R]{
		Method: m,
		Params: params,
		ID:     id,
	}
}

// DecodeRequest decodes data as a request for m. It fails when the method
// member is anything other than m's name, which makes it usable as the
// test for whether a request targets m.
func DecodeRequest[P, R any](m Method[P, R], data []byte) (*Request[P, R], error) {
	env, err := parseEnvelope(data)
	if err != nil {
		return nil, err
	}

	if env.Method == nil {
		return nil, &DecodeError{Member: "method", Err: ErrMissingMember}
	}
	var name string
	if err := json.Unmarshal(env.Method, &name); err != nil {
		return nil, &DecodeError{Member: "method", Err: err}
	}
	if name != m.Name() {
		return nil, &DecodeError{Member: "method", Err: fmt.Errorf("%w: got %q, want %q", ErrMethodMismatch, name, m.Name())}
	}

	if env.Params == nil {
		return nil, &DecodeError{Member: "params", Err: ErrMissingMember}
	}
	var params P
	if err := json.Unmarshal(env.Params, &params); err != nil {
		return nil, &DecodeError{Member: "params", Err: err}
	}

	id, err := env.id()
	if err != nil {
		return nil, err
	}

	return NewRequest[P, R](m, params, id), nil
}

type wireRequest struct {
	Version Version         `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      ID              `json:"id"`
}

func (r *Request[P, R]) MarshalJSON() ([]byte, error) {
	params, err := json.Marshal(r.Params)
	if err != nil {
		return nil, err
	}

	return json.Marshal(&wireRequest{
		Version: r.Version,
		Method:  r.Method.Name(),
		Params:  params,
		ID:      r.ID,
	})
}

// Response is a JSON-RPC response for the method M.
type Response[P, R any] struct {
	Version Version
	Method  Method[P, R]
	Result  R
	ID      ID
}

// NewResponse answers req with result, keeping the request's version and id.
func NewResponse[P, R any](req *Request[P, R], result R) *Response[P, R] {
	return &Response[P, R]{
		Version: req.Version,
		Method:  req.Method,
		Result:  result,
		ID:      req.ID,
	}
}

// DecodeResponse decodes data as a response of m. A response that carries
// an error object instead of a result fails with *Error.
func DecodeResponse[P, R any](m Method[P, R], data []byte) (*Response[P, R], error) {
	env, err := parseEnvelope(data)
	if err != nil {
		return nil, err
	}

	if env.Result == nil {
		if env.Error != nil && !bytes.Equal(env.Error, []byte("null")) {
			rpcErr := &Error{}
			if err := json.Unmarshal(env.Error, rpcErr); err != nil {
				return nil, &DecodeError{Member: "error", Err: err}
			}
			return nil, rpcErr
		}
		return nil, &DecodeError{Member: "result", Err: ErrMissingMember}
	}

	result, err := m.DecodeResult(env.Result)
	if err != nil {
		return nil, &DecodeError{Member: "result", Err: err}
	}

	id, err := env.id()
	if err != nil {
		return nil, err
	}

	return &Response[P, R]{
		Method: m,
		Result: result,
		ID:     id,
	}, nil
}

type wireResponse struct {
	Version Version         `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	ID      ID              `json:"id"`
}

func (r *Response[P, R]) MarshalJSON() ([]byte, error) {
	result, err := r.Method.EncodeResult(r.Result)
	if err != nil {
		return nil, fmt.Errorf("encoding %s result: %w", r.Method.Name(), err)
	}

	return json.Marshal(&wireResponse{
		Version: r.Version,
		Result:  result,
		ID:      r.ID,
	})
}

// PeekMethod returns the method name of an arbitrary request, or an empty
// string when it has none.
func PeekMethod(data []byte) string {
	m, err := members(data)
	if err != nil {
		return ""
	}

	var method string
	if err := json.Unmarshal(m["method"], &method); err != nil {
		return ""
	}
	return method
}
