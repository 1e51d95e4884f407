package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	supabaseObjectPath       = "/storage/v1/object/"
	supabasePublicObjectPath = "/storage/v1/object/public/"
	defaultHTTPTimeout       = 30 * time.Second
	maxErrorBodyBytes        = 4096
)

var (
	errMissingSupabaseURL    = errors.New("storage: supabase url is required")
	errMissingSupabaseKey    = errors.New("storage: supabase key is required")
	errMissingSupabaseBucket = errors.New("storage: bucket is required")
)

type SupabaseConfig struct {
	URL        string
	Key        string
	Bucket     string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// SupabaseStore talks to the Supabase Storage REST API.
type SupabaseStore struct {
	baseURL string
	key     string
	bucket  string
	client  *http.Client
	logger  *zap.Logger
}

// StatusError reports a non-success response from the storage API. Message
// carries the response body verbatim.
type StatusError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("storage: %s failed with status %d: %s", e.Operation, e.StatusCode, e.Message)
}

func NewSupabaseStore(cfg SupabaseConfig) (*SupabaseStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errMissingSupabaseURL
	}
	if strings.TrimSpace(cfg.Key) == "" {
		return nil, errMissingSupabaseKey
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errMissingSupabaseBucket
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SupabaseStore{
		baseURL: baseURL,
		key:     cfg.Key,
		bucket:  cfg.Bucket,
		client:  client,
		logger:  logger,
	}, nil
}

func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for index, segment := range segments {
		segments[index] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

func (s *SupabaseStore) objectURL(path string) string {
	return s.baseURL + supabaseObjectPath + url.PathEscape(s.bucket) + "/" + escapePath(path)
}

func (s *SupabaseStore) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	request, err := http.NewRequestWithContext(ctx, method, s.objectURL(path), body)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Authorization", "Bearer "+s.key)
	request.Header.Set("apikey", s.key)
	return request, nil
}

func (s *SupabaseStore) Upload(ctx context.Context, path, contentType string, data []byte, overwrite bool) error {
	cleaned, err := CleanPath(path)
	if err != nil {
		return err
	}
	request, err := s.newRequest(ctx, http.MethodPost, cleaned, bytes.NewReader(data))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", contentType)
	request.Header.Set("x-upsert", strconv.FormatBool(overwrite))

	response, err := s.client.Do(request)
	if err != nil {
		s.logger.Error("storage upload failed", zap.String("path", cleaned), zap.Error(err))
		return fmt.Errorf("storage: upload %s: %w", cleaned, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w: %s", ErrObjectExists, cleaned)
	}
	if response.StatusCode >= http.StatusMultipleChoices {
		statusErr := readStatusError("upload", response)
		s.logger.Error("storage upload rejected", zap.String("path", cleaned), zap.Int("status", statusErr.StatusCode))
		return statusErr
	}
	return nil
}

func (s *SupabaseStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	cleaned, err := CleanPath(path)
	if err != nil {
		return nil, err
	}
	request, err := s.newRequest(ctx, http.MethodGet, cleaned, nil)
	if err != nil {
		return nil, err
	}
	response, err := s.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("storage: download %s: %w", cleaned, err)
	}
	if response.StatusCode == http.StatusNotFound {
		response.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, cleaned)
	}
	if response.StatusCode >= http.StatusMultipleChoices {
		defer response.Body.Close()
		return nil, readStatusError("download", response)
	}
	return response.Body, nil
}

func (s *SupabaseStore) Delete(ctx context.Context, path string) error {
	cleaned, err := CleanPath(path)
	if err != nil {
		return err
	}
	request, err := s.newRequest(ctx, http.MethodDelete, cleaned, nil)
	if err != nil {
		return err
	}
	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("storage: delete %s: %w", cleaned, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, cleaned)
	}
	if response.StatusCode >= http.StatusMultipleChoices {
		return readStatusError("delete", response)
	}
	return nil
}

func (s *SupabaseStore) PublicURL(path string) string {
	return s.baseURL + supabasePublicObjectPath + url.PathEscape(s.bucket) + "/" + escapePath(path)
}

func (s *SupabaseStore) PathFromURL(publicURL string) (string, bool) {
	prefix := s.baseURL + supabasePublicObjectPath + url.PathEscape(s.bucket) + "/"
	if !strings.HasPrefix(publicURL, prefix) {
		return "", false
	}
	remainder := strings.TrimPrefix(publicURL, prefix)
	if cut := strings.IndexAny(remainder, "?#"); cut >= 0 {
		remainder = remainder[:cut]
	}
	unescaped, err := url.PathUnescape(remainder)
	if err != nil {
		return "", false
	}
	path, err := CleanPath(unescaped)
	if err != nil {
		return "", false
	}
	return path, true
}

func readStatusError(operation string, response *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	return &StatusError{
		Operation:  operation,
		StatusCode: response.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}
