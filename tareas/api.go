package tareas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	// buffered so that `Result` never blocks. validation and authorization
	// failures fire the callback synchronously on the caller's goroutine,
	// before the caller reaches the channel receive.
	c := make(chan ApiCallbackResult[R], 1)
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// StoreApi is the one-shot side of the remote hierarchical store:
// get a value, merge fields, overwrite a key, remove a key and its subtree.
// The continuous side is `Subscription`.
type StoreApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	byJwt string
}

func NewStoreApi(apiUrl string) *StoreApi {
	return NewStoreApiWithContext(context.Background(), apiUrl)
}

func NewStoreApiWithContext(ctx context.Context, apiUrl string) *StoreApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &StoreApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to store calls that need it
func (self *StoreApi) SetByJwt(byJwt string) {
	self.byJwt = byJwt
}

func (self *StoreApi) ByJwt() string {
	return self.byJwt
}

type GetValueCallback apiCallback[*GetValueResult]

type GetValueResult struct {
	// false when there is no value at the path.
	// a missing node is delivered as JSON null by the store.
	Exists bool
	Value  json.RawMessage
}

func (self *StoreApi) GetValue(path string, callback GetValueCallback) {
	go self.getValue(path, callback)
}

func (self *StoreApi) GetValueSync(path string) (*GetValueResult, error) {
	return self.getValue(path, NewNoopApiCallback[*GetValueResult]())
}

func (self *StoreApi) getValue(path string, callback GetValueCallback) (*GetValueResult, error) {
	var raw json.RawMessage
	_, err := request(
		self.ctx,
		"GET",
		fmt.Sprintf("%s/data/%s", self.apiUrl, path),
		nil,
		self.byJwt,
		&raw,
		NewNoopApiCallback[*json.RawMessage](),
	)
	if err != nil {
		callback.Result(nil, err)
		return nil, err
	}
	result := &GetValueResult{
		Exists: !jsonIsNull(raw),
		Value:  raw,
	}
	callback.Result(result, nil)
	return result, nil
}

type WriteCallback apiCallback[*WriteResult]

type WriteResult struct{}

// WriteFields merges the given fields into the record at path.
// Fields not named are left untouched (last write wins per field).
func (self *StoreApi) WriteFields(path string, fields map[string]any, callback WriteCallback) {
	go self.write("PATCH", path, fields, callback)
}

func (self *StoreApi) WriteFieldsSync(path string, fields map[string]any) (*WriteResult, error) {
	return self.write("PATCH", path, fields, NewNoopApiCallback[*WriteResult]())
}

// SetValue fully overwrites the value at path.
func (self *StoreApi) SetValue(path string, value any, callback WriteCallback) {
	go self.write("PUT", path, value, callback)
}

func (self *StoreApi) SetValueSync(path string, value any) (*WriteResult, error) {
	return self.write("PUT", path, value, NewNoopApiCallback[*WriteResult]())
}

// RemoveValue deletes the key and its entire subtree.
func (self *StoreApi) RemoveValue(path string, callback WriteCallback) {
	go self.write("DELETE", path, nil, callback)
}

func (self *StoreApi) RemoveValueSync(path string) (*WriteResult, error) {
	return self.write("DELETE", path, nil, NewNoopApiCallback[*WriteResult]())
}

func (self *StoreApi) write(method string, path string, args any, callback WriteCallback) (*WriteResult, error) {
	return request(
		self.ctx,
		method,
		fmt.Sprintf("%s/data/%s", self.apiUrl, path),
		args,
		self.byJwt,
		&WriteResult{},
		callback,
	)
}

type AuthLoginCallback apiCallback[*AuthLoginResult]

type AuthLoginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginResult struct {
	ByJwt string                `json:"by_jwt,omitempty"`
	Error *AuthLoginResultError `json:"error,omitempty"`
}

type AuthLoginResultError struct {
	Message string `json:"message"`
}

func (self *StoreApi) AuthLogin(authLogin *AuthLoginArgs, callback AuthLoginCallback) {
	go request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		self.byJwt,
		&AuthLoginResult{},
		callback,
	)
}

func (self *StoreApi) AuthLoginSync(authLogin *AuthLoginArgs) (*AuthLoginResult, error) {
	return request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		self.byJwt,
		&AuthLoginResult{},
		NewNoopApiCallback[*AuthLoginResult](),
	)
}

type AuthRegisterCallback apiCallback[*AuthRegisterResult]

type AuthRegisterArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Nombre   string `json:"nombre,omitempty"`
}

type AuthRegisterResult struct {
	ByJwt string                `json:"by_jwt,omitempty"`
	Error *AuthLoginResultError `json:"error,omitempty"`
}

func (self *StoreApi) AuthRegister(authRegister *AuthRegisterArgs, callback AuthRegisterCallback) {
	go request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/auth/register", self.apiUrl),
		authRegister,
		self.byJwt,
		&AuthRegisterResult{},
		callback,
	)
}

func (self *StoreApi) AuthRegisterSync(authRegister *AuthRegisterArgs) (*AuthRegisterResult, error) {
	return request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/auth/register", self.apiUrl),
		authRegister,
		self.byJwt,
		&AuthRegisterResult{},
		NewNoopApiCallback[*AuthRegisterResult](),
	)
}

func (self *StoreApi) Close() {
	self.cancel()
}

func request[R any](ctx context.Context, method string, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}

func jsonIsNull(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return true
	}
	return string(bytes.TrimSpace(raw)) == "null"
}
