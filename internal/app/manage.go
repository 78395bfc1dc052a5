package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"pricehub/internal/market"
	"pricehub/internal/storage"
)

// Repository is the slice of the store the admin commands drive.
type Repository interface {
	CreateAlert(ctx context.Context, alert storage.Alert) (storage.Alert, error)
	GetAlert(ctx context.Context, id string) (storage.Alert, error)
	ListAlertsByUser(ctx context.Context, userID string) ([]storage.Alert, error)
	UpdateAlert(ctx context.Context, alert storage.Alert) (storage.Alert, error)
	DeleteAlert(ctx context.Context, id string) error
	UpsertPushToken(ctx context.Context, token storage.PushToken) (storage.PushToken, error)
	ListPushTokens(ctx context.Context, userID string) ([]storage.PushToken, error)
	DeletePushToken(ctx context.Context, token string) error
	UpsertProfile(ctx context.Context, profile storage.Profile) (storage.Profile, error)
	GetProfile(ctx context.Context, id string) (storage.Profile, error)
}

var _ Repository = (*storage.Store)(nil)

// CreateAlertOptions describe a persisted alert.
type CreateAlertOptions struct {
	UserID    string
	Type      string
	Symbol    string
	Threshold decimal.Decimal
	Direction string
}

// Admin runs the alert, token and profile commands against a repository.
type Admin struct {
	repo Repository
	out  io.Writer
}

// NewAdmin binds repo and the writer results are printed to.
func NewAdmin(repo Repository, out io.Writer) *Admin {
	return &Admin{repo: repo, out: out}
}

// WithAdmin opens the store for the duration of fn.
func (a *App) WithAdmin(ctx context.Context, out io.Writer, fn func(*Admin) error) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("database.dsn not configured: %w", storage.ErrNotConfigured)
	}
	defer closeStore()
	return fn(NewAdmin(store, out))
}

// CreateAlert validates and stores an enabled alert.
func (m *Admin) CreateAlert(ctx context.Context, opts CreateAlertOptions) (storage.Alert, error) {
	userID := strings.TrimSpace(opts.UserID)
	if userID == "" {
		return storage.Alert{}, fmt.Errorf("%w: user id required", market.ErrInvalidParam)
	}
	alert, err := buildAlert(opts.Type, opts.Symbol, opts.Threshold, opts.Direction)
	if err != nil {
		return storage.Alert{}, err
	}
	alert.UserID = userID

	created, err := m.repo.CreateAlert(ctx, alert)
	if err != nil {
		return storage.Alert{}, err
	}
	m.printAlerts([]storage.Alert{created})
	return created, nil
}

// ListAlerts prints a user's alerts.
func (m *Admin) ListAlerts(ctx context.Context, userID string) error {
	alerts, err := m.repo.ListAlertsByUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(m.out, "no alerts")
		return nil
	}
	m.printAlerts(alerts)
	return nil
}

// SetAlertEnabled toggles an alert, keeping its other fields.
func (m *Admin) SetAlertEnabled(ctx context.Context, id string, enabled bool) (storage.Alert, error) {
	alert, err := m.repo.GetAlert(ctx, id)
	if err != nil {
		return storage.Alert{}, err
	}
	if alert.Enabled == enabled {
		m.printAlerts([]storage.Alert{alert})
		return alert, nil
	}
	alert.Enabled = enabled
	updated, err := m.repo.UpdateAlert(ctx, alert)
	if err != nil {
		return storage.Alert{}, err
	}
	m.printAlerts([]storage.Alert{updated})
	return updated, nil
}

// DeleteAlert removes an alert.
func (m *Admin) DeleteAlert(ctx context.Context, id string) error {
	if err := m.repo.DeleteAlert(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(m.out, "deleted alert %s\n", id)
	return nil
}

// AddPushToken registers a device token for userID.
func (m *Admin) AddPushToken(ctx context.Context, userID, token, platform string) (storage.PushToken, error) {
	token = strings.TrimSpace(token)
	if strings.TrimSpace(userID) == "" || token == "" {
		return storage.PushToken{}, fmt.Errorf("%w: user id and token required", market.ErrInvalidParam)
	}
	saved, err := m.repo.UpsertPushToken(ctx, storage.PushToken{
		UserID:   strings.TrimSpace(userID),
		Token:    token,
		Platform: strings.ToLower(strings.TrimSpace(platform)),
	})
	if err != nil {
		return storage.PushToken{}, err
	}
	m.printTokens([]storage.PushToken{saved})
	return saved, nil
}

// ListPushTokens prints a user's device tokens.
func (m *Admin) ListPushTokens(ctx context.Context, userID string) error {
	tokens, err := m.repo.ListPushTokens(ctx, userID)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		fmt.Fprintln(m.out, "no push tokens")
		return nil
	}
	m.printTokens(tokens)
	return nil
}

// RemovePushToken unregisters a device token.
func (m *Admin) RemovePushToken(ctx context.Context, token string) error {
	if err := m.repo.DeletePushToken(ctx, token); err != nil {
		return err
	}
	fmt.Fprintf(m.out, "removed token %s\n", token)
	return nil
}

// SetProfile creates or renames a profile. An empty id lets the database assign one.
func (m *Admin) SetProfile(ctx context.Context, id, displayName string) (storage.Profile, error) {
	profile := storage.Profile{ID: strings.TrimSpace(id), DisplayName: strings.TrimSpace(displayName)}
	saved, err := m.repo.UpsertProfile(ctx, profile)
	if err != nil {
		return storage.Profile{}, err
	}
	m.printProfile(saved)
	return saved, nil
}

// ShowProfile prints a profile.
func (m *Admin) ShowProfile(ctx context.Context, id string) error {
	profile, err := m.repo.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	m.printProfile(profile)
	return nil
}

func (m *Admin) printAlerts(alerts []storage.Alert) {
	tw := tabwriter.NewWriter(m.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSYMBOL\tDIRECTION\tTHRESHOLD\tENABLED\tTRIGGERED")
	for _, a := range alerts {
		triggered := "-"
		if a.TriggeredAt != nil {
			triggered = a.TriggeredAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%s\n", a.ID, a.Type, a.Symbol, a.Direction, a.Threshold, a.Enabled, triggered)
	}
	_ = tw.Flush()
}

func (m *Admin) printTokens(tokens []storage.PushToken) {
	tw := tabwriter.NewWriter(m.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tTOKEN\tPLATFORM")
	for _, t := range tokens {
		platform := t.Platform
		if platform == "" {
			platform = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.UserID, t.Token, platform)
	}
	_ = tw.Flush()
}

func (m *Admin) printProfile(p storage.Profile) {
	fmt.Fprintf(m.out, "%s\t%s\t%s\n", p.ID, p.DisplayName, p.CreatedAt.UTC().Format(time.RFC3339))
}
