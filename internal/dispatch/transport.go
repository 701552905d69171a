package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/infinity-templates/composer/internal/faults"
)

const defaultTransportTimeout = 5 * time.Second

// Transport delivers a single Record. Err distinguishes a terminal
// authorization failure (never retried) from any other delivery failure
// (retried with backoff) via faults.DispatcherUnauthorized.
type Transport interface {
	Deliver(ctx context.Context, rec Record) error
}

// noopTransport is used when no TEMPLATE_REPO is configured. It always
// succeeds so the composer can run standalone.
type noopTransport struct{}

func (noopTransport) Deliver(context.Context, Record) error { return nil }

// httpTransport posts each record as JSON to repoURL, signed with a
// short-lived JWT built from the shared dispatch token.
type httpTransport struct {
	repoURL string
	token   string
	client  *http.Client
}

// NewTransport returns the transport appropriate for the given
// configuration: a no-op when repoURL is empty, otherwise an HTTP
// transport signing requests with token.
func NewTransport(repoURL, token string) Transport {
	if strings.TrimSpace(repoURL) == "" {
		return noopTransport{}
	}
	return &httpTransport{
		repoURL: repoURL,
		token:   token,
		client:  &http.Client{Timeout: defaultTransportTimeout},
	}
}

func (t *httpTransport) Deliver(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal dispatch record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.repoURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Compose-Event", rec.Event)
	req.Header.Set("X-Compose-Delivery", rec.ID)

	sig, err := signPayload(body, t.token)
	if err != nil {
		return faults.New(faults.DispatcherUnauthorized, "failed to sign dispatch payload: "+err.Error())
	}
	req.Header.Set("X-Compose-Signature", sig)

	res, err := t.client.Do(req)
	if err != nil {
		return faults.New(faults.DispatcherUnreachable, err.Error())
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		reason, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return faults.New(faults.DispatcherUnauthorized, fmt.Sprintf("status %d: %s", res.StatusCode, strings.TrimSpace(string(reason))))
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		reason, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return faults.New(faults.DispatcherUnreachable, fmt.Sprintf("status %d: %s", res.StatusCode, strings.TrimSpace(string(reason))))
	}
	return nil
}

type signatureClaims struct {
	jwt.RegisteredClaims
	PayloadSHA string `json:"payload_sha256"`
}

// signPayload signs a compact claim over the payload digest, not the
// payload itself, so the signature header stays small regardless of
// record size.
func signPayload(payload []byte, secret string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("dispatch token not configured")
	}
	claims := signatureClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
			Issuer:    "composer",
		},
		PayloadSHA: sha256Hex(payload),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
