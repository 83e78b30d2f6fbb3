package bridge

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"fablink/internal/config"
	"fablink/pkg/utils"
)

// Rendezvous stores pairing sessions so the machine agent and a client can
// exchange session descriptions without a direct network path.
type Rendezvous interface {
	// CreateSession stores an offer and returns the pairing code under
	// which the counterpart finds it.
	CreateSession(ctx context.Context, offer string) (string, error)
	GetOffer(ctx context.Context, code string) (string, error)
	PublishAnswer(ctx context.Context, code, answer string) error
	// WaitForAnswer polls until an answer is published or ctx ends.
	WaitForAnswer(ctx context.Context, code string) (string, error)
	DeleteSession(ctx context.Context, code string) error
}

const answerPollInterval = 2 * time.Second

// session is the document stored per pairing code.
type session struct {
	Code   string `json:"code"`
	Offer  string `json:"offer"`
	Answer string `json:"answer"`
}

// FirebaseRendezvous keeps pairing sessions in a Firebase realtime database.
type FirebaseRendezvous struct {
	ref *db.Ref
	log *zap.Logger
}

func NewFirebaseRendezvous(ctx context.Context, cfg config.FirebaseConfig, log *zap.Logger) (*FirebaseRendezvous, error) {
	if log == nil {
		log = zap.NewNop()
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:   cfg.ProjectID,
		DatabaseURL: cfg.DatabaseURL,
	}, option.WithCredentialsFile(cfg.CredentialsPath))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open firebase database: %w", err)
	}
	return &FirebaseRendezvous{ref: client.NewRef("sessions"), log: log}, nil
}

func (f *FirebaseRendezvous) CreateSession(ctx context.Context, offer string) (string, error) {
	code, err := utils.GeneratePairingCode()
	if err != nil {
		return "", fmt.Errorf("failed to generate pairing code: %w", err)
	}
	data := session{Code: code, Offer: offer}
	if err := f.ref.Child(code).Set(ctx, data); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	f.log.Debug("created pairing session", zap.String("code", code))
	return code, nil
}

func (f *FirebaseRendezvous) GetOffer(ctx context.Context, code string) (string, error) {
	var data session
	if err := f.ref.Child(code).Get(ctx, &data); err != nil {
		return "", fmt.Errorf("failed to fetch session %s: %w", code, err)
	}
	if data.Code == "" || data.Offer == "" {
		return "", fmt.Errorf("session %s not found or has no offer", code)
	}
	return data.Offer, nil
}

func (f *FirebaseRendezvous) PublishAnswer(ctx context.Context, code, answer string) error {
	var data session
	ref := f.ref.Child(code)
	if err := ref.Get(ctx, &data); err != nil {
		return fmt.Errorf("failed to fetch session %s: %w", code, err)
	}
	if data.Code == "" {
		return fmt.Errorf("session %s not found", code)
	}
	if err := ref.Update(ctx, map[string]any{"answer": answer}); err != nil {
		return fmt.Errorf("failed to publish answer for session %s: %w", code, err)
	}
	return nil
}

func (f *FirebaseRendezvous) WaitForAnswer(ctx context.Context, code string) (string, error) {
	ref := f.ref.Child(code)
	ticker := time.NewTicker(answerPollInterval)
	defer ticker.Stop()

	for {
		var data session
		if err := ref.Get(ctx, &data); err != nil {
			f.log.Warn("failed to poll for answer", zap.String("code", code), zap.Error(err))
		} else if data.Answer != "" {
			return data.Answer, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (f *FirebaseRendezvous) DeleteSession(ctx context.Context, code string) error {
	var data session
	ref := f.ref.Child(code)
	if err := ref.Get(ctx, &data); err != nil {
		return fmt.Errorf("failed to fetch session %s: %w", code, err)
	}
	if data.Code == "" {
		return nil
	}
	if err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", code, err)
	}
	return nil
}
