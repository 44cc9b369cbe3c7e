package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-rental-funnel/internal/config"
	"github.com/tbourn/go-rental-funnel/internal/domain"
	"github.com/tbourn/go-rental-funnel/internal/normalizer"
	"github.com/tbourn/go-rental-funnel/internal/notify"
	"github.com/tbourn/go-rental-funnel/internal/repo"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// seedUser inserts a user with an optional phone.
func seedUser(t *testing.T, db *gorm.DB, telegramID int64, phone string) *domain.User {
	t.Helper()
	u := &domain.User{TelegramID: telegramID}
	if phone != "" {
		u.Phone = &phone
	}
	if err := repo.CreateUser(context.Background(), db, u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

// seedCode gives owner a referral code with the exact code string.
func seedCode(t *testing.T, db *gorm.DB, owner *domain.User, code string, active bool) *domain.ReferralCode {
	t.Helper()
	rc := &domain.ReferralCode{UserID: owner.ID, Code: code, IsActive: active}
	if err := repo.CreateReferralCode(context.Background(), db, rc); err != nil {
		t.Fatalf("seed code: %v", err)
	}
	return rc
}

// recordingSender captures notifications.
type recordingSender struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (r *recordingSender) Send(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func newPipeline(db *gorm.DB, sender notify.Sender) *Pipeline {
	return &Pipeline{
		Events:      &IdempotencyStore{DB: db},
		Normalizer:  normalizer.New(nil),
		Ledger:      &Ledger{DB: db},
		Attribution: &AttributionService{DB: db, Window: 30 * 24 * time.Hour},
		Payouts:     &PayoutService{DB: db, Mode: config.PayoutModeFixed, Fixed: 500},
		Referrals:   &ReferralService{DB: db},
		Notifier:    sender,
	}
}

func countRows(t *testing.T, db *gorm.DB, model any, where string, args ...any) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if where != "" {
		q = q.Where(where, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func i64(v int64) *int64 { return &v }
