// Package archive copies dead-lettered payloads to object storage so
// they survive the retention purge on the processing tables.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"ordersync/internal/domain/event"
)

type S3Config struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Endpoint  string
}

type S3Archiver struct {
	cfg S3Config
	s3  *s3.Client
}

func NewS3Archiver(ctx context.Context, cfg S3Config) (*S3Archiver, error) {
	if cfg.Region == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 region and bucket are required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if parsed, err := url.Parse(endpoint); err == nil {
			endpoint = parsed.String()
		}
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(
			aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				if service == s3.ServiceID {
					return aws.Endpoint{URL: endpoint, SigningRegion: cfg.Region}, nil
				}
				return aws.Endpoint{}, &aws.EndpointNotFoundError{}
			}),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	return &S3Archiver{cfg: cfg, s3: client}, nil
}

// deadLetterObject is the stored document: the raw payload plus enough
// processing context to debug without the database row.
type deadLetterObject struct {
	EventID    string          `json:"event_id"`
	MerchantID string          `json:"merchant_id"`
	Type       string          `json:"type"`
	Attempts   int             `json:"attempts"`
	Reason     string          `json:"reason"`
	ReceivedAt time.Time       `json:"received_at"`
	ArchivedAt time.Time       `json:"archived_at"`
	RawPayload json.RawMessage `json:"raw_payload"`
}

// ArchiveDeadLetter writes one dead-lettered event under
// dead-letters/<date>/<event-id>.json.
func (a *S3Archiver) ArchiveDeadLetter(ctx context.Context, e event.InboundEvent, rec event.ProcessingRecord, reason string) error {
	if a == nil || a.s3 == nil {
		return errors.New("archiver not initialized")
	}

	now := time.Now().UTC()
	doc := deadLetterObject{
		EventID:    e.ID,
		MerchantID: e.MerchantID,
		Type:       e.Type,
		Attempts:   rec.Attempts,
		Reason:     reason,
		ReceivedAt: e.ReceivedAt,
		ArchivedAt: now,
		RawPayload: e.RawPayload,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode dead letter %s: %w", e.ID, err)
	}

	key := fmt.Sprintf("dead-letters/%s/%s.json", now.Format("2006-01-02"), e.ID)
	_, err = a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put dead letter %s: %w", e.ID, err)
	}
	return nil
}
