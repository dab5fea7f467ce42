// internal/services/storage_service.go
package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/imi-market/internal/apperr"
	"github.com/javajoker/imi-market/internal/config"
)

const (
	MaxEvidenceSize = 20 * 1024 * 1024 // 20MB
	evidenceFolder  = "evidence"
)

var evidenceTypes = []string{".pdf", ".png", ".jpg", ".jpeg", ".txt", ".zip"}

// StorageService keeps dispute evidence in S3, or on local disk when no AWS
// credentials are configured.
type StorageService struct {
	s3Client s3iface.S3API
	bucket   string
	localDir string
}

// UploadResult identifies stored evidence. ProofRef is what a dispute
// submission references.
type UploadResult struct {
	ProofRef string `json:"proof_ref"`
	Key      string `json:"key"`
	SHA256   string `json:"sha256"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

func NewStorageService(cfg config.AWSConfig) (*StorageService, error) {
	if cfg.AccessKeyID == "" {
		// Return service without S3 for local development
		return &StorageService{localDir: cfg.EvidenceDir}, nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &StorageService{
		s3Client: s3.New(sess),
		bucket:   cfg.S3Bucket,
		localDir: cfg.EvidenceDir,
	}, nil
}

// NewStorageServiceWithClient uses an existing S3 client.
func NewStorageServiceWithClient(client s3iface.S3API, bucket string) *StorageService {
	return &StorageService{s3Client: client, bucket: bucket}
}

// UploadEvidence stores a file submitted in support of a dispute.
func (s *StorageService) UploadEvidence(file multipart.File, header *multipart.FileHeader) (*UploadResult, error) {
	const op = "storage.upload_evidence"
	if header.Size > MaxEvidenceSize {
		return nil, apperr.Validation(op, "file size %d bytes exceeds maximum allowed size %d bytes", header.Size, MaxEvidenceSize)
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedType(ext) {
		return nil, apperr.Validation(op, "file type %s is not allowed", ext)
	}

	fileBytes, err := io.ReadAll(io.LimitReader(file, MaxEvidenceSize+1))
	if err != nil {
		return nil, apperr.Wrap(op, fmt.Errorf("failed to read file: %w", err))
	}
	if len(fileBytes) > MaxEvidenceSize {
		return nil, apperr.Validation(op, "file exceeds maximum allowed size %d bytes", MaxEvidenceSize)
	}

	sum := sha256.Sum256(fileBytes)
	key := s.generateKey(ext)
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(fileBytes)
	}

	if s.s3Client != nil {
		err = s.uploadToS3(fileBytes, key, contentType)
	} else {
		err = s.uploadToLocal(fileBytes, key)
	}
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}

	return &UploadResult{
		ProofRef: s.proofRef(key),
		Key:      key,
		SHA256:   hex.EncodeToString(sum[:]),
		Size:     int64(len(fileBytes)),
		MimeType: contentType,
	}, nil
}

func allowedType(ext string) bool {
	for _, t := range evidenceTypes {
		if ext == t {
			return true
		}
	}
	return false
}

func (s *StorageService) uploadToS3(fileBytes []byte, key, contentType string) error {
	_, err := s.s3Client.PutObject(&s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(fileBytes),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(fileBytes))),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

func (s *StorageService) uploadToLocal(fileBytes []byte, key string) error {
	path := filepath.Join(s.localDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create evidence directory: %w", err)
	}
	if err := os.WriteFile(path, fileBytes, 0o640); err != nil {
		return fmt.Errorf("failed to write evidence file: %w", err)
	}
	logrus.WithField("path", path).Debug("Evidence stored on local disk")
	return nil
}

func (s *StorageService) proofRef(key string) string {
	if s.s3Client != nil {
		return fmt.Sprintf("s3://%s/%s", s.bucket, key)
	}
	return "file://" + filepath.ToSlash(filepath.Join(s.localDir, key))
}

// objectKey returns the key of an s3:// proof reference held in this bucket.
func (s *StorageService) objectKey(proofRef string) (string, bool) {
	prefix := fmt.Sprintf("s3://%s/", s.bucket)
	if s.s3Client == nil || !strings.HasPrefix(proofRef, prefix) {
		return "", false
	}
	return strings.TrimPrefix(proofRef, prefix), true
}

// PresignedURL gives temporary read access to S3-held evidence.
func (s *StorageService) PresignedURL(key string, expiration time.Duration) (string, error) {
	if s.s3Client == nil {
		return "", apperr.State("storage.presign", "S3 client not configured")
	}

	req, _ := s.s3Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})

	url, err := req.Presign(expiration)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return url, nil
}

func (s *StorageService) generateKey(ext string) string {
	timestamp := time.Now().UTC().Format("20060102")
	return fmt.Sprintf("%s/%s/%s%s", evidenceFolder, timestamp, uuid.NewString(), ext)
}
