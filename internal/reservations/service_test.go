package reservations

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dmoralesb/storefront-backend/internal/catalog"
	"github.com/dmoralesb/storefront-backend/internal/inventory"
	"github.com/dmoralesb/storefront-backend/pkg/config"
	"github.com/dmoralesb/storefront-backend/pkg/db/models"
	"github.com/dmoralesb/storefront-backend/pkg/enums"
	pkgerrors "github.com/dmoralesb/storefront-backend/pkg/errors"
	"github.com/dmoralesb/storefront-backend/pkg/logger"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r *gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type fixture struct {
	db    *gorm.DB
	coord Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:reservations_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Product{},
		&models.ProductVariant{},
		&models.InventoryItem{},
		&models.StockMovement{},
		&models.CartReservation{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logg := logger.New(logger.Options{ServiceName: "reservations-test", Output: io.Discard})
	ledger, err := inventory.NewService(inventory.ServiceParams{
		Tx:         &gormTxRunner{db: db},
		Repository: inventory.NewRepository(db),
		Logger:     logg,
	})
	if err != nil {
		t.Fatalf("build ledger: %v", err)
	}

	coord, err := NewCoordinator(CoordinatorParams{
		Tx:         &gormTxRunner{db: db},
		Repository: NewRepository(db),
		Catalog:    catalog.NewRepository(db),
		Ledger:     ledger,
		Config: config.ReservationConfig{
			TTLMinutes:       30,
			SweepBatchLimit:  500,
			SystemActorLabel: "system",
		},
		Logger: logg,
	})
	if err != nil {
		t.Fatalf("build coordinator: %v", err)
	}
	return &fixture{db: db, coord: coord}
}

func (f *fixture) seedProduct(t *testing.T, active bool) models.Product {
	t.Helper()
	product := models.Product{
		SKU:        "sku-" + uuid.NewString()[:8],
		Title:      "widget",
		PriceCents: 1500,
		IsActive:   active,
	}
	if err := f.db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}

func (f *fixture) seedStock(t *testing.T, productID uuid.UUID, available, reserved int) {
	t.Helper()
	item := models.InventoryItem{
		ProductID:        productID,
		StockQuantity:    available,
		ReservedQuantity: reserved,
	}
	if err := f.db.Create(&item).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

func (f *fixture) stock(t *testing.T, productID uuid.UUID) models.InventoryItem {
	t.Helper()
	var item models.InventoryItem
	if err := f.db.First(&item, "product_id = ?", productID).Error; err != nil {
		t.Fatalf("load stock: %v", err)
	}
	return item
}

func (f *fixture) movements(t *testing.T, productID uuid.UUID) []models.StockMovement {
	t.Helper()
	var rows []models.StockMovement
	if err := f.db.Where("product_id = ?", productID).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		t.Fatalf("load movements: %v", err)
	}
	return rows
}

func (f *fixture) reservationCount(t *testing.T, sessionID string) int64 {
	t.Helper()
	var count int64
	if err := f.db.Model(&models.CartReservation{}).Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
		t.Fatalf("count reservations: %v", err)
	}
	return count
}

func TestReserveCreatesHold(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	product := f.seedProduct(t, true)
	f.seedStock(t, product.ID, 10, 0)

	before := time.Now().UTC()
	reservation, err := f.coord.Reserve(context.Background(), ReserveInput{
		SessionID: "sess-1",
		ProductID: product.ID,
		Quantity:  3,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reservation.Quantity != 3 {
		t.Fatalf("unexpected reservation quantity: %d", reservation.Quantity)
	}
	if reservation.ExpiresAt.Before(before.Add(29 * time.Minute)) {
		t.Fatalf("expiry not set from ttl: %v", reservation.ExpiresAt)
	}

	item := f.stock(t, product.ID)
	if item.StockQuantity != 7 || item.ReservedQuantity != 3 {
		t.Fatalf("unexpected stock state: %+v", item)
	}

	moves := f.movements(t, product.ID)
	if len(moves) != 1 || moves[0].MovementType != enums.MovementTypeReserved || moves[0].Quantity != 3 {
		t.Fatalf("unexpected movements: %+v", moves)
	}
	if moves[0].ReferenceID == nil || *moves[0].ReferenceID != "cart_sess-1" {
		t.Fatalf("unexpected reference: %+v", moves[0].ReferenceID)
	}
}

func TestReserveInsufficientStock(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	product := f.seedProduct(t, true)
	f.seedStock(t, product.ID, 2, 0)

	_, err := f.coord.Reserve(context.Background(), ReserveInput{
		SessionID: "sess-1",
		ProductID: product.ID,
		Quantity:  3,
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	item := f.stock(t, product.ID)
	if item.StockQuantity != 2 || item.ReservedQuantity != 0 {
		t.Fatalf("stock changed on rejection: %+v", item)
	}
	if got := f.reservationCount(t, "sess-1"); got != 0 {
		t.Fatalf("expected no reservation rows, got %d", got)
	}
}

func TestReserveRepeatAppliesDelta(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	product := f.seedProduct(t, true)
	f.seedStock(t, product.ID, 10, 0)
	ctx := context.Background()

	if _, err := f.coord.Reserve(ctx, ReserveInput{SessionID: "sess-1", ProductID: product.ID, Quantity: 3}); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if _, err := f.coord.Reserve(ctx, ReserveInput{SessionID: "sess-1", ProductID: product.ID, Quantity: 5}); err != nil {
		t.Fatalf("second reserve: %v", err)
	}

	item := f.stock(t, product.ID)
	if item.StockQuantity != 5 || item.ReservedQuantity != 5 {
		t.Fatalf("repeat reserve double-counted: %+v", item)
	}
	if got := f.reservationCount(t, "sess-1"); got != 1 {
		t.Fatalf("expected single reservation row, got %d", got)
	}

	moves := f.movements(t, product.ID)
	if len(moves) != 2 || moves[1].MovementType != enums.MovementTypeReserved || moves[1].Quantity != 2 {
		t.Fatalf("expected delta movement of 2, got %+v", moves)
	}
}

func TestReserveRepeatLowerQuantityReleases(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	product := f.seedProduct(t, true)
	f.seedStock(t, product.ID, 10, 0)
	ctx := context.Background()

	if _, err := f.coord.Reserve(ctx, ReserveInput{SessionID: "sess-1", ProductID: product.ID, Quantity: 5}); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if _, err := f.coord.Reserve(ctx, ReserveInput{SessionID: "sess-1", ProductID: product.ID, Quantity: 2}); err != nil {
		t.Fatalf("second reserve: %v", err)
	}

	item := f.stock(t, product.ID)
	if item.StockQuantity != 8 || item.ReservedQuantity != 2 {
		t.Fatalf("unexpected stock state: %+v", item)
	}

	moves := f.movements(t, product.ID)
	if len(moves) != 2 || moves[1].MovementType != enums.MovementTypeReleased || moves[1].Quantity != 3 {
		t.Fatalf("expected released movement of 3, got %+v", moves)
	}
}

func TestReserveRepeatSameQuantityRefreshesExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	product := f.seedProduct(t, true)
	f.seedStock(t, product.ID, 8, 2)

	stale := time.Now().UTC().Add(2 * time.Minute)
	seeded := models.CartReservation{
		SessionID: "sess-1",
		ProductID: product.ID,
		Quantity:  2,
		ExpiresAt: stale,
	}
	if err := f.db.Create(&seeded).Error; err != nil {
		t.Fatalf("seed reservation: %v", err)
	}

	reservation, err := f.coord.Reserve(context.Background(), ReserveInput{
		SessionID: "sess-1",
		ProductID: product.ID,
		Quantity:  2,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !reservation.ExpiresAt.After(stale) {
		t.Fatalf("expiry not refreshed: %v", reservation.ExpiresAt)
	}

	if moves := f.movements(t, product.ID); len(moves) != 0 {
		t.Fatalf("zero delta must not move stock, got %+v", moves)
	}
	item := f.stock(t, product.ID)
	if item.StockQuantity != 8 || item.ReservedQuantity != 2 {
		t.Fatalf("unexpected stock state: %+v", item)
	}
}

func TestReserveRejectsInactiveProduct(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	product := f.seedProduct(t, false)
	f.seedStock(t, product.ID, 10, 0)

	_, err := f.coord.Reserve(context.Background(), ReserveInput{
		SessionID: "sess-1",
		ProductID: product.ID,
		Quantity:  1,
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestReserveRejectsUnknownProduct(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.coord.Reserve(context.Background(), ReserveInput{
		SessionID: "sess-1",
		ProductID: uuid.New(),
		Quantity:  1,
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReserveRejectsForeignVariant(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	product := f.seedProduct(t, true)
	other := f.seedProduct(t, true)
	variant := models.ProductVariant{
		ProductID: other.ID,
		SKU:       "var-" + uuid.NewString()[:8],
		Name:      "large",
		IsActive:  true,
	}
	if err := f.db.Create(&variant).Error; err != nil {
		t.Fatalf("seed variant: %v", err)
	}

	_, err := f.coord.Reserve(context.Background(), ReserveInput{
		SessionID:   "sess-1",
		ProductID:   product.ID,
		VariationID: variant.ID,
		Quantity:    1,
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReleaseRestoresStock(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	product := f.seedProduct(t, true)
	f.seedStock(t, product.ID, 10, 0)
	ctx := context.Background()

	if _, err := f.coord.Reserve(ctx, ReserveInput{SessionID: "sess-1", ProductID: product.ID, Quantity: 4}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := f.coord.Release(ctx, "sess-1", product.ID, uuid.Nil); err != nil {
		t.Fatalf("release: %v", err)
	}

	item := f.stock(t, product.ID)
	if item.StockQuantity != 10 || item.ReservedQuantity != 0 {
		t.Fatalf("unexpected stock state: %+v", item)
	}
	if got := f.reservationCount(t, "sess-1"); got != 0 {
		t.Fatalf("reservation row not removed, count %d", got)
	}

	moves := f.movements(t, product.ID)
	if len(moves) != 2 || moves[1].MovementType != enums.MovementTypeReleased {
		t.Fatalf("expected released movement, got %+v", moves)
	}
	if moves[1].ReferenceID == nil || *moves[1].ReferenceID != "cart_release_sess-1" {
		t.Fatalf("unexpected reference: %+v", moves[1].ReferenceID)
	}

	// double release is a no-op
	if err := f.coord.Release(ctx, "sess-1", product.ID, uuid.Nil); err != nil {
		t.Fatalf("double release: %v", err)
	}
	if item := f.stock(t, product.ID); item.StockQuantity != 10 {
		t.Fatalf("double release moved stock: %+v", item)
	}
}

func TestProcessOrderCommitsReservedStock(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	product := f.seedProduct(t, true)
	f.seedStock(t, product.ID, 10, 0)
	ctx := context.Background()

	if _, err := f.coord.Reserve(ctx, ReserveInput{SessionID: "sess-1", ProductID: product.ID, Quantity: 4}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	orderID := uuid.New()
	result, err := f.coord.ProcessOrder(ctx, "sess-1", orderID)
	if err != nil {
		t.Fatalf("process order: %v", err)
	}
	if result.Committed != 1 || len(result.Failed) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	// available stock was deducted at reserve time; commit only retires the hold
	item := f.stock(t, product.ID)
	if item.StockQuantity != 6 || item.ReservedQuantity != 0 {
		t.Fatalf("unexpected stock state: %+v", item)
	}
	if got := f.reservationCount(t, "sess-1"); got != 0 {
		t.Fatalf("reservations not cleared, count %d", got)
	}

	moves := f.movements(t, product.ID)
	if len(moves) != 2 || moves[1].MovementType != enums.MovementTypeOut {
		t.Fatalf("expected out movement, got %+v", moves)
	}
	if moves[1].OrderID == nil || *moves[1].OrderID != orderID {
		t.Fatalf("order id not recorded: %+v", moves[1].OrderID)
	}
	if moves[1].ReferenceID == nil || *moves[1].ReferenceID != "order_"+orderID.String() {
		t.Fatalf("unexpected reference: %+v", moves[1].ReferenceID)
	}
}

func TestProcessOrderContinuesPastFailedLines(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	product := f.seedProduct(t, true)
	f.seedStock(t, product.ID, 10, 0)
	broken := f.seedProduct(t, true)
	ctx := context.Background()

	if _, err := f.coord.Reserve(ctx, ReserveInput{SessionID: "sess-1", ProductID: product.ID, Quantity: 2}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	// a hold with no backing stock record: its deduction must fail
	orphan := models.CartReservation{
		SessionID: "sess-1",
		ProductID: broken.ID,
		Quantity:  1,
		ExpiresAt: time.Now().UTC().Add(30 * time.Minute),
	}
	if err := f.db.Create(&orphan).Error; err != nil {
		t.Fatalf("seed orphan reservation: %v", err)
	}

	result, err := f.coord.ProcessOrder(ctx, "sess-1", uuid.New())
	if err == nil {
		t.Fatal("expected combined error for failed line")
	}
	if result.Committed != 1 {
		t.Fatalf("healthy line not committed: %+v", result)
	}
	if len(result.Failed) != 1 || result.Failed[0].ProductID != broken.ID {
		t.Fatalf("failed line not reported: %+v", result.Failed)
	}
	if got := f.reservationCount(t, "sess-1"); got != 0 {
		t.Fatalf("session reservations must be cleared even on failure, count %d", got)
	}
}

func TestCleanupExpiredSweepsLapsedHolds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	product := f.seedProduct(t, true)
	f.seedStock(t, product.ID, 6, 4)
	ctx := context.Background()

	expired := models.CartReservation{
		SessionID: "sess-old",
		ProductID: product.ID,
		Quantity:  3,
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}
	live := models.CartReservation{
		SessionID: "sess-live",
		ProductID: product.ID,
		Quantity:  1,
		ExpiresAt: time.Now().UTC().Add(20 * time.Minute),
	}
	for _, row := range []*models.CartReservation{&expired, &live} {
		if err := f.db.Create(row).Error; err != nil {
			t.Fatalf("seed reservation: %v", err)
		}
	}

	swept, err := f.coord.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept, got %d", swept)
	}

	item := f.stock(t, product.ID)
	if item.StockQuantity != 9 || item.ReservedQuantity != 1 {
		t.Fatalf("unexpected stock state: %+v", item)
	}
	if got := f.reservationCount(t, "sess-old"); got != 0 {
		t.Fatalf("expired reservation not removed")
	}
	if got := f.reservationCount(t, "sess-live"); got != 1 {
		t.Fatalf("live reservation must survive")
	}

	moves := f.movements(t, product.ID)
	if len(moves) != 1 || moves[0].MovementType != enums.MovementTypeReleased {
		t.Fatalf("expected released movement, got %+v", moves)
	}
	if moves[0].ReferenceID == nil || *moves[0].ReferenceID != "cart_expired_sess-old" {
		t.Fatalf("unexpected reference: %+v", moves[0].ReferenceID)
	}
	if moves[0].CreatedBy == nil || *moves[0].CreatedBy != "system" {
		t.Fatalf("sweeper actor not recorded: %+v", moves[0].CreatedBy)
	}
}

func TestReserveValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	cases := []ReserveInput{
		{ProductID: uuid.New(), Quantity: 1},
		{SessionID: "sess-1", Quantity: 1},
		{SessionID: "sess-1", ProductID: uuid.New(), Quantity: 0},
		{SessionID: "sess-1", ProductID: uuid.New(), Quantity: -1},
	}
	for _, input := range cases {
		if _, err := f.coord.Reserve(ctx, input); err == nil {
			t.Fatalf("expected validation error for %+v", input)
		} else if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
			t.Fatalf("unexpected error for %+v: %v", input, err)
		}
	}
}

// lostInsertRaceRepo mimics losing the first-reserve insert race: by the time
// our transaction creates the row, a concurrent reserve has already committed
// one for the same (session, product, variation) key.
type lostInsertRaceRepo struct {
	Repository
}

func (r *lostInsertRaceRepo) WithTx(tx *gorm.DB) Repository { return r }

func (r *lostInsertRaceRepo) Create(ctx context.Context, _ *models.CartReservation) error {
	return errors.New(`ERROR: duplicate key value violates unique constraint "idx_reservation_key" (SQLSTATE 23505)`)
}

func TestReserveLostInsertRaceReturnsConflict(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	product := f.seedProduct(t, true)
	f.seedStock(t, product.ID, 10, 0)

	logg := logger.New(logger.Options{ServiceName: "reservations-test", Output: io.Discard})
	ledger, err := inventory.NewService(inventory.ServiceParams{
		Tx:         &gormTxRunner{db: f.db},
		Repository: inventory.NewRepository(f.db),
		Logger:     logg,
	})
	if err != nil {
		t.Fatalf("build ledger: %v", err)
	}
	coord, err := NewCoordinator(CoordinatorParams{
		Tx:         &gormTxRunner{db: f.db},
		Repository: &lostInsertRaceRepo{Repository: NewRepository(f.db)},
		Catalog:    catalog.NewRepository(f.db),
		Ledger:     ledger,
		Config: config.ReservationConfig{
			TTLMinutes:       30,
			SweepBatchLimit:  500,
			SystemActorLabel: "system",
		},
		Logger: logg,
	})
	if err != nil {
		t.Fatalf("build coordinator: %v", err)
	}

	_, err = coord.Reserve(context.Background(), ReserveInput{
		SessionID: "sess-race",
		ProductID: product.ID,
		Quantity:  2,
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}

	// the failed insert rolled back the reserved movement with it
	item := f.stock(t, product.ID)
	if item.StockQuantity != 10 || item.ReservedQuantity != 0 {
		t.Fatalf("stock changed on lost race: %+v", item)
	}
	if moves := f.movements(t, product.ID); len(moves) != 0 {
		t.Fatalf("unexpected movements: %+v", moves)
	}
}

func TestReserveConcurrentSessionsCannotOversell(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sqlDB, err := f.db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	product := f.seedProduct(t, true)
	f.seedStock(t, product.ID, 4, 0)

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, session := range []string{"sess-a", "sess-b"} {
		wg.Add(1)
		go func(session string) {
			defer wg.Done()
			_, err := f.coord.Reserve(context.Background(), ReserveInput{
				SessionID: session,
				ProductID: product.ID,
				Quantity:  3,
			})
			results <- err
		}(session)
	}
	wg.Wait()
	close(results)

	var reserved, rejected int
	for err := range results {
		if err == nil {
			reserved++
			continue
		}
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeInsufficientStock {
			rejected++
			continue
		}
		t.Fatalf("unexpected reserve error: %v", err)
	}
	if reserved != 1 || rejected != 1 {
		t.Fatalf("got %d reserved and %d rejected, want exactly one of each", reserved, rejected)
	}

	item := f.stock(t, product.ID)
	if item.StockQuantity != 1 || item.ReservedQuantity != 3 {
		t.Fatalf("unexpected stock state after contention: %+v", item)
	}
	var holds int64
	if err := f.db.Model(&models.CartReservation{}).Where("product_id = ?", product.ID).Count(&holds).Error; err != nil {
		t.Fatalf("count holds: %v", err)
	}
	if holds != 1 {
		t.Fatalf("expected one hold row, got %d", holds)
	}
}
