package gcs

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"

	"github.com/angelmondragon/lackmarkt-backend/pkg/config"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
)

const (
	signedURLHost = "https://storage.googleapis.com"
	pingTimeout   = 5 * time.Second
)

// Client stores and signs invoice artifacts in a single default bucket.
type Client struct {
	svc            *storage.Service
	defaultBucket  string
	serviceAccount *serviceAccountInfo
	now            func() time.Time
}

type serviceAccountInfo struct {
	clientEmail string
	privateKey  *rsa.PrivateKey
}

type Pinger interface {
	Ping(ctx context.Context) error
}

func NewClient(ctx context.Context, cfg config.GCSConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("gcs bucket name is required")
	}

	credsJSON := gcp.CredentialsJSON
	if credsJSON == "" && gcp.ApplicationCredentials != "" {
		bytes, err := os.ReadFile(gcp.ApplicationCredentials)
		if err != nil {
			return nil, fmt.Errorf("reading credentials file: %w", err)
		}
		credsJSON = string(bytes)
	}

	opts := []option.ClientOption{option.WithScopes(storage.DevstorageReadWriteScope)}
	var sa *serviceAccountInfo
	if credsJSON != "" {
		parsed, err := parseServiceAccount(credsJSON)
		if err != nil {
			return nil, err
		}
		sa = parsed
		opts = append(opts, option.WithCredentialsJSON([]byte(credsJSON)))
	}

	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gcs service: %w", err)
	}

	client := &Client{
		svc:            svc,
		defaultBucket:  cfg.BucketName,
		serviceAccount: sa,
		now:            time.Now,
	}

	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("gcs health check failed: %w", err)
	}
	if sa == nil && logg != nil {
		logg.Warn(ctx, "gcs client has no service account key; signed urls are unavailable")
	}
	if logg != nil {
		logg.Info(ctx, "gcs client initialized")
	}
	return client, nil
}

// NewClientWithService is used by tests and tools that build the storage service themselves.
func NewClientWithService(svc *storage.Service, bucket string) *Client {
	return &Client{svc: svc, defaultBucket: bucket, now: time.Now}
}

func (c *Client) DefaultBucket() string {
	if c == nil {
		return ""
	}
	return c.defaultBucket
}

func (c *Client) Close() error {
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.svc == nil {
		return errors.New("gcs client not initialized")
	}
	if c.defaultBucket == "" {
		return errors.New("gcs bucket not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	// object-level check (requires storage.objects.list)
	if _, err := c.svc.Objects.List(c.defaultBucket).MaxResults(1).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gcs object check failed: %w", err)
	}
	return nil
}

// Upload writes the object, replacing any previous content at the same name.
func (c *Client) Upload(ctx context.Context, bucket, object, contentType string, body io.Reader) error {
	if c == nil || c.svc == nil {
		return errors.New("gcs client not initialized")
	}
	bucket = c.bucketOrDefault(bucket)
	if bucket == "" || object == "" {
		return errors.New("bucket and object are required")
	}
	obj := &storage.Object{Name: object, ContentType: contentType}
	_, err := c.svc.Objects.Insert(bucket, obj).
		Media(body, googleapi.ContentType(contentType)).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, object, err)
	}
	return nil
}

// Exists reports whether the object is present.
func (c *Client) Exists(ctx context.Context, bucket, object string) (bool, error) {
	if c == nil || c.svc == nil {
		return false, errors.New("gcs client not initialized")
	}
	bucket = c.bucketOrDefault(bucket)
	if bucket == "" || object == "" {
		return false, errors.New("bucket and object are required")
	}
	_, err := c.svc.Objects.Get(bucket, object).Context(ctx).Do()
	if err == nil {
		return true, nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return false, nil
	}
	return false, fmt.Errorf("stat %s/%s: %w", bucket, object, err)
}

// SignedReadURL returns a V2 signed GET url valid for ttl.
func (c *Client) SignedReadURL(bucket, object string, ttl time.Duration) (string, error) {
	if c == nil || c.serviceAccount == nil || c.serviceAccount.privateKey == nil {
		return "", errors.New("service account key required for signing")
	}
	bucket = c.bucketOrDefault(bucket)
	if bucket == "" {
		return "", errors.New("bucket is required")
	}
	if object == "" {
		return "", errors.New("object is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}

	now := time.Now
	if c.now != nil {
		now = c.now
	}
	expires := strconv.FormatInt(now().Add(ttl).Unix(), 10)
	canonical := strings.Join([]string{http.MethodGet, "", "", expires, "/" + bucket + "/" + object}, "\n")

	hash := sha256.Sum256([]byte(canonical))
	sig, err := rsa.SignPKCS1v15(rand.Reader, c.serviceAccount.privateKey, crypto.SHA256, hash[:])
	if err != nil {
		return "", fmt.Errorf("sign url: %w", err)
	}

	q := url.Values{}
	q.Set("GoogleAccessId", c.serviceAccount.clientEmail)
	q.Set("Expires", expires)
	q.Set("Signature", base64.StdEncoding.EncodeToString(sig))

	u := fmt.Sprintf("%s/%s/%s?%s", signedURLHost, bucket, escapeObject(object), q.Encode())
	return u, nil
}

func (c *Client) bucketOrDefault(bucket string) string {
	if bucket != "" {
		return bucket
	}
	return c.defaultBucket
}

func escapeObject(object string) string {
	parts := strings.Split(object, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func parseServiceAccount(jsonCreds string) (*serviceAccountInfo, error) {
	var creds struct {
		Type        string `json:"type"`
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal([]byte(jsonCreds), &creds); err != nil {
		return nil, fmt.Errorf("parsing service account credentials: %w", err)
	}
	// authorized_user credentials can upload but not sign
	if creds.Type != "" && creds.Type != "service_account" {
		return nil, nil
	}
	if creds.ClientEmail == "" || creds.PrivateKey == "" {
		return nil, errors.New("invalid service account credentials")
	}
	priv, err := parsePrivateKey(creds.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &serviceAccountInfo{clientEmail: creds.ClientEmail, privateKey: priv}, nil
}

func parsePrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid private key")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		if priv, ok := key.(*rsa.PrivateKey); ok {
			return priv, nil
		}
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.New("unsupported private key format")
	}
	return priv, nil
}
