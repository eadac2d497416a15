package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"geosewa_exam/internal/config"
	"geosewa_exam/internal/model"
	"geosewa_exam/internal/util"
	"geosewa_exam/pkg/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// StorageProvider is where completed-attempt receipts are archived.
type StorageProvider interface {
	Upload(ctx context.Context, filename string, reader io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, filename string) error
	GetURL(filename string) string
}

type LocalStorageProvider struct {
	Config *config.StorageConfig
}

func (p *LocalStorageProvider) Upload(ctx context.Context, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	dst := filepath.Join(p.Config.LocalPath, filename)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, reader); err != nil {
		return "", err
	}
	return p.GetURL(filename), nil
}

func (p *LocalStorageProvider) Delete(ctx context.Context, filename string) error {
	return os.Remove(filepath.Join(p.Config.LocalPath, filename))
}

func (p *LocalStorageProvider) GetURL(filename string) string {
	return filepath.ToSlash(filepath.Join(p.Config.LocalPath, filename))
}

type MinioStorageProvider struct {
	Config *config.StorageConfig
	Client *minio.Client
}

func NewMinioStorageProvider(cfg *config.StorageConfig) (*MinioStorageProvider, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: cfg.MinioSecure,
	})
	if err != nil {
		return nil, err
	}
	return &MinioStorageProvider{Config: cfg, Client: client}, nil
}

func (p *MinioStorageProvider) Upload(ctx context.Context, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	_, err := p.Client.PutObject(ctx, p.Config.MinioBucket, filename, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return p.GetURL(filename), nil
}

func (p *MinioStorageProvider) Delete(ctx context.Context, filename string) error {
	return p.Client.RemoveObject(ctx, p.Config.MinioBucket, filename, minio.RemoveObjectOptions{})
}

func (p *MinioStorageProvider) GetURL(filename string) string {
	return "/" + p.Config.MinioBucket + "/" + filename
}

// StorageService archives a JSON and a PDF receipt for every completed
// attempt. With no provider configured it does nothing.
type StorageService struct {
	Provider StorageProvider
	Reports  *ReportService
	Scoring  *ScoringService
}

func NewStorageService(cfg *config.Config, reports *ReportService, scoring *ScoringService) *StorageService {
	var provider StorageProvider
	switch cfg.Storage.Type {
	case util.StorageMinio:
		p, err := NewMinioStorageProvider(&cfg.Storage)
		if err != nil {
			logger.Log.Error("minio receipt store unavailable, falling back to local disk", zap.Error(err))
			provider = &LocalStorageProvider{Config: &cfg.Storage}
		} else {
			provider = p
		}
	case util.StorageLocal:
		provider = &LocalStorageProvider{Config: &cfg.Storage}
	case util.StorageNone, "":
	default:
		logger.Log.Warn("unknown storage type, receipts disabled", zap.String("type", cfg.Storage.Type))
	}
	return &StorageService{Provider: provider, Reports: reports, Scoring: scoring}
}

func (s *StorageService) Enabled() bool {
	return s != nil && s.Provider != nil
}

type receipt struct {
	AttemptID   string            `json:"attempt_id"`
	Username    string            `json:"username,omitempty"`
	SubmittedAt time.Time         `json:"submitted_at"`
	Answers     model.AnswerMap   `json:"answers"`
	Result      *model.ExamResult `json:"result,omitempty"`
	Stats       *ResultStats      `json:"stats,omitempty"`
}

// ArchiveReceipt uploads the receipt files and returns their URLs.
func (s *StorageService) ArchiveReceipt(ctx context.Context, attemptID, username string, answers model.AnswerMap, result *model.ExamResult) ([]string, error) {
	if !s.Enabled() {
		return nil, nil
	}

	rec := receipt{
		AttemptID:   attemptID,
		Username:    username,
		SubmittedAt: time.Now().UTC(),
		Answers:     answers,
		Result:      result,
	}
	if result != nil {
		stats := s.Scoring.Score(result)
		rec.Stats = &stats
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, err
	}

	prefix := fmt.Sprintf("receipts/%s/%s", rec.SubmittedAt.Format(util.DateFormat), attemptID)
	var urls []string
	url, err := s.Provider.Upload(ctx, prefix+".json", bytes.NewReader(data), int64(len(data)), util.MimeJSON)
	if err != nil {
		return nil, err
	}
	urls = append(urls, url)

	if result != nil && s.Reports != nil {
		url, err := s.uploadReport(ctx, prefix+".pdf", result)
		if err != nil {
			s.discard(ctx, prefix+".json")
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, nil
}

func (s *StorageService) uploadReport(ctx context.Context, filename string, result *model.ExamResult) (string, error) {
	pdf, err := s.Reports.Render(result, s.Scoring.Score(result))
	if err != nil {
		return "", err
	}
	return s.Provider.Upload(ctx, filename, bytes.NewReader(pdf), int64(len(pdf)), util.MimePDF)
}

// discard removes a half-written receipt so the archive never holds a JSON
// receipt without its report.
func (s *StorageService) discard(ctx context.Context, filename string) {
	if err := s.Provider.Delete(ctx, filename); err != nil {
		logger.Log.Warn("failed to remove partial receipt", zap.String("file", filename), zap.Error(err))
	}
}
