// Package storage keeps recording audio in a Supabase Storage bucket.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Supabase talks to the Storage REST API with the service key. Objects are
// addressed by "<user>/<recording>.wav" references, never by public URL.
type Supabase struct {
	BaseURL    string
	Key        string
	Bucket     string
	HTTPClient *http.Client
}

func NewSupabase(baseURL, key, bucket string) *Supabase {
	return &Supabase{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Key:        key,
		Bucket:     bucket,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// ObjectPath is the bucket-relative reference for a recording's audio.
func ObjectPath(userID, recordingID string) string {
	return fmt.Sprintf("%s/%s.wav", userID, recordingID)
}

func (s *Supabase) objectURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.BaseURL, s.Bucket, path)
}

func (s *Supabase) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+s.Key)
	req.Header.Set("apikey", s.Key)
	return s.HTTPClient.Do(req)
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("bad status %s: %s", resp.Status, strings.TrimSpace(string(body)))
}

// Upload stores wav for the recording, overwriting any previous object, and
// returns its reference.
func (s *Supabase) Upload(ctx context.Context, userID, recordingID string, wav []byte) (string, error) {
	path := ObjectPath(userID, recordingID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.objectURL(path), bytes.NewReader(wav))
	if err != nil {
		return "", errors.Wrap(err, "build upload request")
	}
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set("x-upsert", "true")

	resp, err := s.do(req)
	if err != nil {
		return "", errors.Wrap(err, "upload audio")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", errors.Wrap(statusError(resp), "upload audio")
	}
	return path, nil
}

// SignedURL returns a time-limited download URL for path.
func (s *Supabase) SignedURL(ctx context.Context, path string, expires time.Duration) (string, error) {
	body, err := json.Marshal(map[string]int{"expiresIn": int(expires / time.Second)})
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", s.BaseURL, s.Bucket, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build sign request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.do(req)
	if err != nil {
		return "", errors.Wrap(err, "sign url")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Wrap(statusError(resp), "sign url")
	}

	var out struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "decode sign response")
	}
	if out.SignedURL == "" {
		return "", errors.New("sign response without url")
	}
	return s.BaseURL + "/storage/v1" + out.SignedURL, nil
}

// Delete removes path. A missing object is not an error.
func (s *Supabase) Delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.objectURL(path), nil)
	if err != nil {
		return errors.Wrap(err, "build delete request")
	}
	resp, err := s.do(req)
	if err != nil {
		return errors.Wrap(err, "delete audio")
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return errors.Wrap(statusError(resp), "delete audio")
	}
}
