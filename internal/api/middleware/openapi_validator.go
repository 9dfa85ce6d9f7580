package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tollgate.io/tollgate/internal/api/openapi"
	apperrors "tollgate.io/tollgate/internal/pkg/errors"
	"tollgate.io/tollgate/internal/pkg/logger"
)

const openAPIResponseValidationMessage = "response does not conform to OpenAPI contract"

// OpenAPIOptions configures the contract validator.
type OpenAPIOptions struct {
	// BasePath is the mount point of the API (e.g. /api/v1); document paths
	// are relative to it.
	BasePath string
	// ValidateResponses buffers every response and replaces ones that break
	// the contract with a 500.
	ValidateResponses bool
}

// MustOpenAPIValidator creates the validator middleware and panics on setup failure.
func MustOpenAPIValidator(opts OpenAPIOptions) gin.HandlerFunc {
	mw, err := NewOpenAPIValidator(opts)
	if err != nil {
		panic(fmt.Sprintf("init openapi validator: %v", err))
	}
	return mw
}

func skipAuthentication(context.Context, *openapi3filter.AuthenticationInput) error {
	// JWTAuth and RequirePermission run before the validator.
	return nil
}

// NewOpenAPIValidator validates requests, and optionally responses, against
// the embedded OpenAPI document. Paths outside the document pass through.
func NewOpenAPIValidator(opts OpenAPIOptions) (gin.HandlerFunc, error) {
	doc, err := openapi.Load()
	if err != nil {
		return nil, err
	}

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("create openapi router: %w", err)
	}

	basePath := normalizeBasePath(opts.BasePath)
	filterOpts := &openapi3filter.Options{AuthenticationFunc: skipAuthentication}

	return func(c *gin.Context) {
		origPath := c.Request.URL.Path
		origRawPath := c.Request.URL.RawPath
		restore := func() {
			c.Request.URL.Path = origPath
			c.Request.URL.RawPath = origRawPath
		}

		route, pathParams, routeErr := findRouteWithFallback(router, c.Request, basePath)
		if routeErr != nil {
			restore()
			if isPathNotFoundError(routeErr) {
				c.Next()
				return
			}
			abortWithError(c, http.StatusMethodNotAllowed, apperrors.CodeInvalidRequestField, routeErr.Error())
			return
		}

		reqInput := &openapi3filter.RequestValidationInput{
			Request:    c.Request,
			PathParams: pathParams,
			Route:      route,
			Options:    filterOpts,
		}
		err := openapi3filter.ValidateRequest(c.Request.Context(), reqInput)
		restore()
		if err != nil {
			abortWithError(c, http.StatusBadRequest, apperrors.CodeInvalidRequestField, err.Error())
			return
		}

		if !opts.ValidateResponses {
			c.Next()
			return
		}

		original := c.Writer
		buffered := newBufferedResponseWriter(original)
		c.Writer = buffered
		c.Next()
		c.Writer = original

		// Nothing written yet: ErrorHandler renders c.Errors on the way out.
		if !buffered.Written() && len(c.Errors) > 0 {
			return
		}

		respInput := &openapi3filter.ResponseValidationInput{
			RequestValidationInput: reqInput,
			Status:                 buffered.Status(),
			Header:                 buffered.Header().Clone(),
			Options:                filterOpts,
		}
		if buffered.Size() > 0 {
			respInput.SetBodyBytes(buffered.body.Bytes())
		}
		if err := openapi3filter.ValidateResponse(c.Request.Context(), respInput); err != nil {
			logger.Error("OpenAPI response validation failed",
				zap.String("request_id", GetRequestID(c.Request.Context())),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Int("status", buffered.Status()),
				zap.Error(err),
			)
			buffered.ResetJSON(http.StatusInternalServerError, ErrorResponse{
				Code:    "OPENAPI_RESPONSE_INVALID",
				Message: openAPIResponseValidationMessage,
			})
		}

		if _, err := buffered.FlushToOriginal(); err != nil {
			logger.Warn("failed to flush buffered response",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
		}
	}, nil
}

func normalizeBasePath(basePath string) string {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" || basePath == "/" {
		return ""
	}
	return "/" + strings.Trim(basePath, "/")
}

func normalizeValidationPath(basePath, path string) string {
	if basePath == "" {
		if path == "" {
			return "/"
		}
		return path
	}
	if path == basePath {
		return "/"
	}
	if strings.HasPrefix(path, basePath+"/") {
		return "/" + strings.TrimPrefix(path, basePath+"/")
	}
	return path
}

func findRouteWithFallback(
	router routers.Router,
	req *http.Request,
	basePath string,
) (*routers.Route, map[string]string, error) {
	origPath := req.URL.Path
	origRawPath := req.URL.RawPath

	candidates := [][2]string{{origPath, origRawPath}}
	normalizedPath := normalizeValidationPath(basePath, origPath)
	normalizedRawPath := origRawPath
	if origRawPath != "" {
		normalizedRawPath = normalizeValidationPath(basePath, origRawPath)
	}
	if normalizedPath != origPath || normalizedRawPath != origRawPath {
		candidates = append(candidates, [2]string{normalizedPath, normalizedRawPath})
	}

	var lastErr error
	for _, candidate := range candidates {
		req.URL.Path = candidate[0]
		req.URL.RawPath = candidate[1]

		route, pathParams, err := router.FindRoute(req)
		if err == nil {
			return route, pathParams, nil
		}
		if !isPathNotFoundError(err) {
			return nil, nil, err
		}
		lastErr = err
	}

	req.URL.Path = origPath
	req.URL.RawPath = origRawPath
	return nil, nil, lastErr
}

func isPathNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if err == routers.ErrPathNotFound {
		return true
	}
	if strings.Contains(err.Error(), routers.ErrPathNotFound.Error()) {
		return true
	}
	if routeErr, ok := err.(*routers.RouteError); ok && strings.Contains(routeErr.Reason, routers.ErrPathNotFound.Error()) {
		return true
	}
	return false
}

type bufferedResponseWriter struct {
	gin.ResponseWriter
	body        bytes.Buffer
	statusCode  int
	wroteHeader bool
	size        int
}

func newBufferedResponseWriter(w gin.ResponseWriter) *bufferedResponseWriter {
	return &bufferedResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (w *bufferedResponseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.statusCode = code
	w.wroteHeader = true
}

func (w *bufferedResponseWriter) WriteHeaderNow() {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
}

func (w *bufferedResponseWriter) Write(data []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.body.Write(data)
	w.size += n
	return n, err
}

func (w *bufferedResponseWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *bufferedResponseWriter) Status() int {
	if !w.wroteHeader {
		return http.StatusOK
	}
	return w.statusCode
}

func (w *bufferedResponseWriter) Size() int {
	return w.size
}

func (w *bufferedResponseWriter) Written() bool {
	return w.wroteHeader
}

func (w *bufferedResponseWriter) ResetJSON(statusCode int, payload ErrorResponse) {
	w.statusCode = statusCode
	w.wroteHeader = true
	w.body.Reset()
	w.size = 0
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{"code":"OPENAPI_RESPONSE_INVALID","message":"response does not conform to OpenAPI contract"}`)
	}
	_, _ = w.Write(data)
}

func (w *bufferedResponseWriter) FlushToOriginal() (int, error) {
	w.ResponseWriter.WriteHeader(w.Status())
	if w.body.Len() == 0 {
		return 0, nil
	}
	return w.ResponseWriter.Write(w.body.Bytes())
}
