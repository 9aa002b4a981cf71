package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kasirpos/internal/domain"
	"kasirpos/internal/logger"
	"kasirpos/internal/store"
)

// Store keeps the ledger in process memory. Atomic units work on a private
// copy of the committed state which is published as a whole on commit, so
// readers outside a unit never observe a half-applied operation.
type Store struct {
	mu        sync.RWMutex
	writer    sync.Mutex
	committed *state
}

type state struct {
	products  map[int64]domain.Product
	moves     []domain.StockMove
	sales     map[int64]domain.Sale
	saleItems map[int64][]domain.SaleItem
	shifts    map[int64]domain.Shift
	users     map[int64]domain.User
	audit     []domain.AuditLog

	nextProduct int64
	nextMove    int64
	nextSale    int64
	nextItem    int64
	nextShift   int64
	nextUser    int64
	nextAudit   int64
}

var _ store.Repository = (*Store)(nil)

var errForeignUnit = errors.New("memory store: atomic unit belongs to another store")

func newState() *state {
	return &state{
		products:  make(map[int64]domain.Product),
		sales:     make(map[int64]domain.Sale),
		saleItems: make(map[int64][]domain.SaleItem),
		shifts:    make(map[int64]domain.Shift),
		users:     make(map[int64]domain.User),
	}
}

func (st *state) clone() *state {
	out := &state{
		products:    make(map[int64]domain.Product, len(st.products)),
		moves:       slices.Clone(st.moves),
		sales:       make(map[int64]domain.Sale, len(st.sales)),
		saleItems:   make(map[int64][]domain.SaleItem, len(st.saleItems)),
		shifts:      make(map[int64]domain.Shift, len(st.shifts)),
		users:       make(map[int64]domain.User, len(st.users)),
		audit:       slices.Clone(st.audit),
		nextProduct: st.nextProduct,
		nextMove:    st.nextMove,
		nextSale:    st.nextSale,
		nextItem:    st.nextItem,
		nextShift:   st.nextShift,
		nextUser:    st.nextUser,
		nextAudit:   st.nextAudit,
	}
	for k, v := range st.products {
		out.products[k] = v
	}
	for k, v := range st.sales {
		out.sales[k] = v
	}
	for k, v := range st.saleItems {
		out.saleItems[k] = slices.Clone(v)
	}
	for k, v := range st.shifts {
		out.shifts[k] = v
	}
	for k, v := range st.users {
		out.users[k] = v
	}
	return out
}

// New returns an empty store.
func New() *Store {
	return &Store{committed: newState()}
}

// NewSeeded returns a store with demo users and a small catalog. Initial
// stock is booked as RECEIVE moves so the ledger replays to the stock level.
func NewSeeded() *Store {
	s := New()
	st := s.committed
	now := time.Now().UTC()

	for _, u := range seedUsers() {
		st.nextUser++
		u.ID = st.nextUser
		u.CreatedAt = now
		st.users[u.ID] = u
	}

	catalog := []domain.Product{
		{Barcode: "8991001000011", Name: "Mie Goreng Instan", Cost: 2700, Price: 3500},
		{Barcode: "8991001000028", Name: "Telur 10 Butir", Cost: 23000, Price: 26500},
		{Barcode: "8991001000035", Name: "Susu UHT 1L", Cost: 13600, Price: 18900},
		{Barcode: "8991001000042", Name: "Roti Tawar", Cost: 12500, Price: 17800},
		{Barcode: "8991001000059", Name: "Kopi Sachet", Cost: 1700, Price: 2600},
		{Barcode: "8991001000066", Name: "Gula 1kg", Cost: 15300, Price: 17400},
		{Barcode: "8991001000073", Name: "Teh Celup", Cost: 7200, Price: 9800},
		{Barcode: "8991001000080", Name: "Air Mineral 600ml", Cost: 3200, Price: 3900},
	}
	for _, p := range catalog {
		st.nextProduct++
		p.ID = st.nextProduct
		p.Stock = 120
		p.CreatedAt = now
		st.products[p.ID] = p

		st.nextMove++
		st.moves = append(st.moves, domain.StockMove{
			ID:        st.nextMove,
			ProductID: p.ID,
			QtyChange: p.Stock,
			Reason:    domain.ReasonReceive,
			RefType:   domain.RefTypeInitial,
			Note:      "seed",
			CreatedAt: now,
		})
	}
	return s
}

// seedUsers builds the demo accounts. Passwords come from SEED_ADMIN_PASSWORD
// and SEED_CASHIER_PASSWORD, falling back to dev defaults.
func seedUsers() []domain.User {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.Warn(context.Background(), "memory store using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	users := make([]domain.User, 0, 2)
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			panic(fmt.Sprintf("memory store: hash seed password for %s: %v", u.username, err))
		}
		users = append(users, domain.User{
			Username:     u.username,
			Role:         u.role,
			PasswordHash: string(hash),
			Active:       true,
		})
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type memTx struct {
	s    *Store
	work *state
	done bool
}

func (t *memTx) Commit() error {
	if t.done {
		return nil
	}
	t.s.mu.Lock()
	t.s.committed = t.work
	t.s.mu.Unlock()
	t.done = true
	t.s.writer.Unlock()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.writer.Unlock()
	return nil
}

func (s *Store) begin(ctx context.Context) (store.Tx, error) {
	s.writer.Lock()
	s.mu.RLock()
	work := s.committed.clone()
	s.mu.RUnlock()
	return &memTx{s: s, work: work}, nil
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return store.Atomic(ctx, s.begin, fn)
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) unitState(ctx context.Context) (*state, bool) {
	u, ok := store.UnitFrom(ctx)
	if !ok {
		return nil, false
	}
	tx, ok := u.Tx().(*memTx)
	if !ok || tx.s != s {
		return nil, false
	}
	return tx.work, true
}

// view returns the state visible to ctx: the unit's working copy, or the
// committed snapshot, which is never mutated after publication.
func (s *Store) view(ctx context.Context) *state {
	if st, ok := s.unitState(ctx); ok {
		return st
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed
}

// write applies fn to the unit in ctx, or to a fresh auto-committed unit.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if st, ok := s.unitState(ctx); ok {
		return fn(st)
	}
	if _, ok := store.UnitFrom(ctx); ok {
		return errForeignUnit
	}
	return s.RunInTx(ctx, func(ctx context.Context) error {
		return s.write(ctx, fn)
	})
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func clampLimit(limit int, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return limit
}

func inRange(at time.Time, from *time.Time, to *time.Time) bool {
	if from != nil && at.Before(*from) {
		return false
	}
	if to != nil && at.After(*to) {
		return false
	}
	return true
}

func containsFold(haystack string, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func newestFirst[T any](items []T, at func(T) time.Time, id func(T) int64) {
	slices.SortFunc(items, func(a, b T) int {
		if c := at(b).Compare(at(a)); c != 0 {
			return c
		}
		return cmp.Compare(id(b), id(a))
	})
}

func head[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

// --- products ---

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, ok := s.view(ctx).products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	for _, p := range s.view(ctx).products {
		if p.Barcode == barcode {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	query = strings.TrimSpace(query)
	out := make([]domain.Product, 0)
	for _, p := range s.view(ctx).products {
		if query != "" && !containsFold(p.Name, query) && !containsFold(p.Barcode, query) {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Product) int { return cmp.Compare(b.ID, a.ID) })
	return head(out, clampLimit(limit, 200)), nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	var created domain.Product
	err := s.write(ctx, func(st *state) error {
		for _, p := range st.products {
			if p.Barcode == product.Barcode {
				return store.ErrDuplicate
			}
		}
		st.nextProduct++
		product.ID = st.nextProduct
		product.CreatedAt = stamp(product.CreatedAt)
		st.products[product.ID] = product
		created = product
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	var updated domain.Product
	err := s.write(ctx, func(st *state) error {
		existing, ok := st.products[product.ID]
		if !ok {
			return store.ErrNotFound
		}
		for _, p := range st.products {
			if p.ID != product.ID && p.Barcode == product.Barcode {
				return store.ErrDuplicate
			}
		}
		existing.Barcode = product.Barcode
		existing.Name = product.Name
		existing.Cost = product.Cost
		existing.Price = product.Price
		st.products[existing.ID] = existing
		updated = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.products[id]; !ok {
			return store.ErrNotFound
		}
		delete(st.products, id)
		return nil
	})
}

func (s *Store) ProductHasSales(ctx context.Context, id int64) (bool, error) {
	for _, items := range s.view(ctx).saleItems {
		for _, item := range items {
			if item.ProductID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *Store) UpdateProductStock(ctx context.Context, id int64, stock int64) error {
	return s.write(ctx, func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return store.ErrNotFound
		}
		p.Stock = stock
		st.products[id] = p
		return nil
	})
}

// --- stock moves ---

func (s *Store) InsertStockMove(ctx context.Context, move domain.StockMove) (*domain.StockMove, error) {
	err := s.write(ctx, func(st *state) error {
		st.nextMove++
		move.ID = st.nextMove
		move.CreatedAt = stamp(move.CreatedAt)
		st.moves = append(st.moves, move)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &move, nil
}

func (s *Store) ListStockMoves(ctx context.Context, filter domain.StockMoveFilter) ([]domain.StockMove, error) {
	st := s.view(ctx)
	out := make([]domain.StockMove, 0)
	for _, m := range st.moves {
		if filter.ProductID != nil && m.ProductID != *filter.ProductID {
			continue
		}
		if !inRange(m.CreatedAt, filter.From, filter.To) {
			continue
		}
		if p, ok := st.products[m.ProductID]; ok {
			m.ProductName = p.Name
			m.ProductBarcode = p.Barcode
		}
		out = append(out, m)
	}
	newestFirst(out, func(m domain.StockMove) time.Time { return m.CreatedAt }, func(m domain.StockMove) int64 { return m.ID })
	return head(out, clampLimit(filter.Limit, 200)), nil
}

func (s *Store) ListLowStock(ctx context.Context, threshold int64, limit int, offset int) ([]domain.Product, error) {
	out := make([]domain.Product, 0)
	for _, p := range s.view(ctx).products {
		if p.Stock <= threshold {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Product) int {
		if c := cmp.Compare(a.Stock, b.Stock); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if offset > 0 {
		if offset >= len(out) {
			return []domain.Product{}, nil
		}
		out = out[offset:]
	}
	return head(out, clampLimit(limit, 200)), nil
}

func (s *Store) StockMoveTotals(ctx context.Context) (map[int64]int64, error) {
	totals := make(map[int64]int64)
	for _, m := range s.view(ctx).moves {
		totals[m.ProductID] += m.QtyChange
	}
	return totals, nil
}

// --- sales ---

func (s *Store) InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	err := s.write(ctx, func(st *state) error {
		st.nextSale++
		sale.ID = st.nextSale
		sale.CreatedAt = stamp(sale.CreatedAt)
		st.sales[sale.ID] = sale
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	sale, ok := s.view(ctx).sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (s *Store) UpdateSale(ctx context.Context, sale domain.Sale) error {
	return s.write(ctx, func(st *state) error {
		existing, ok := st.sales[sale.ID]
		if !ok {
			return store.ErrNotFound
		}
		sale.CreatedAt = existing.CreatedAt
		st.sales[sale.ID] = sale
		return nil
	})
}

func (s *Store) ReplaceSaleItems(ctx context.Context, saleID int64, items []domain.SaleItem) ([]domain.SaleItem, error) {
	var saved []domain.SaleItem
	err := s.write(ctx, func(st *state) error {
		if _, ok := st.sales[saleID]; !ok {
			return store.ErrNotFound
		}
		saved = make([]domain.SaleItem, 0, len(items))
		for _, item := range items {
			st.nextItem++
			item.ID = st.nextItem
			item.SaleID = saleID
			saved = append(saved, item)
		}
		st.saleItems[saleID] = saved
		return nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(saved), nil
}

func (s *Store) ListSaleItems(ctx context.Context, saleID int64) ([]domain.SaleItem, error) {
	items := slices.Clone(s.view(ctx).saleItems[saleID])
	if items == nil {
		items = []domain.SaleItem{}
	}
	return items, nil
}

func (s *Store) ListHeldSales(ctx context.Context, userID *int64, limit int) ([]domain.Sale, error) {
	out := make([]domain.Sale, 0)
	for _, sale := range s.view(ctx).sales {
		if sale.Status != domain.SaleStatusHeld {
			continue
		}
		if userID != nil && (sale.UserID == nil || *sale.UserID != *userID) {
			continue
		}
		out = append(out, sale)
	}
	newestFirst(out, saleTime, saleID)
	return head(out, clampLimit(limit, 50)), nil
}

func (s *Store) ListRecentSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	out := make([]domain.Sale, 0)
	for _, sale := range s.view(ctx).sales {
		if filter.Status != "" && sale.Status != filter.Status {
			continue
		}
		if !inRange(sale.CreatedAt, filter.From, filter.To) {
			continue
		}
		out = append(out, sale)
	}
	newestFirst(out, saleTime, saleID)
	return head(out, clampLimit(filter.Limit, 100)), nil
}

func saleTime(s domain.Sale) time.Time { return s.CreatedAt }
func saleID(s domain.Sale) int64       { return s.ID }

// --- shifts ---

func (s *Store) GetOpenShift(ctx context.Context, userID int64) (*domain.Shift, error) {
	var found *domain.Shift
	for _, shift := range s.view(ctx).shifts {
		if shift.UserID != userID || shift.Status != domain.ShiftStatusOpen {
			continue
		}
		if found == nil || shift.ID > found.ID {
			sh := shift
			found = &sh
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

func (s *Store) InsertShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	err := s.write(ctx, func(st *state) error {
		if shift.Status == domain.ShiftStatusOpen {
			for _, existing := range st.shifts {
				if existing.UserID == shift.UserID && existing.Status == domain.ShiftStatusOpen {
					return store.ErrDuplicate
				}
			}
		}
		st.nextShift++
		shift.ID = st.nextShift
		shift.OpenedAt = stamp(shift.OpenedAt)
		st.shifts[shift.ID] = shift
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &shift, nil
}

func (s *Store) UpdateShift(ctx context.Context, shift domain.Shift) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.shifts[shift.ID]; !ok {
			return store.ErrNotFound
		}
		st.shifts[shift.ID] = shift
		return nil
	})
}

func (s *Store) ListShifts(ctx context.Context, limit int) ([]domain.Shift, error) {
	out := make([]domain.Shift, 0)
	for _, shift := range s.view(ctx).shifts {
		out = append(out, shift)
	}
	slices.SortFunc(out, func(a, b domain.Shift) int { return cmp.Compare(b.ID, a.ID) })
	return head(out, clampLimit(limit, 200)), nil
}

// --- users ---

func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	u, ok := s.view(ctx).users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	for _, u := range s.view(ctx).users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) InsertUser(ctx context.Context, user domain.User) (*domain.User, error) {
	err := s.write(ctx, func(st *state) error {
		for _, u := range st.users {
			if u.Username == user.Username {
				return store.ErrDuplicate
			}
		}
		st.nextUser++
		user.ID = st.nextUser
		user.CreatedAt = stamp(user.CreatedAt)
		st.users[user.ID] = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) UpdateUser(ctx context.Context, user domain.User) error {
	return s.write(ctx, func(st *state) error {
		existing, ok := st.users[user.ID]
		if !ok {
			return store.ErrNotFound
		}
		user.CreatedAt = existing.CreatedAt
		st.users[user.ID] = user
		return nil
	})
}

func (s *Store) ListUsers(ctx context.Context, query string, limit int) ([]domain.User, error) {
	query = strings.TrimSpace(query)
	out := make([]domain.User, 0)
	for _, u := range s.view(ctx).users {
		if query != "" && !containsFold(u.Username, query) {
			continue
		}
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b domain.User) int { return cmp.Compare(b.ID, a.ID) })
	return head(out, clampLimit(limit, 200)), nil
}

func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	return int64(len(s.view(ctx).users)), nil
}

// --- audit ---

func (s *Store) InsertAudit(ctx context.Context, entry domain.AuditLog) error {
	return s.write(ctx, func(st *state) error {
		st.nextAudit++
		entry.ID = st.nextAudit
		entry.CreatedAt = stamp(entry.CreatedAt)
		st.audit = append(st.audit, entry)
		return nil
	})
}

func (s *Store) ListAudit(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	out := make([]domain.AuditLog, 0)
	for _, entry := range s.view(ctx).audit {
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		if !inRange(entry.CreatedAt, filter.From, filter.To) {
			continue
		}
		out = append(out, entry)
	}
	newestFirst(out, func(a domain.AuditLog) time.Time { return a.CreatedAt }, func(a domain.AuditLog) int64 { return a.ID })
	return head(out, clampLimit(filter.Limit, 200)), nil
}

// --- reports ---

func (st *state) paidSales(filter domain.ReportFilter) []domain.Sale {
	out := make([]domain.Sale, 0)
	for _, sale := range st.sales {
		if sale.Status != domain.SaleStatusPaid {
			continue
		}
		if !inRange(sale.CreatedAt, filter.From, filter.To) {
			continue
		}
		if filter.UserID != nil && (sale.UserID == nil || *sale.UserID != *filter.UserID) {
			continue
		}
		out = append(out, sale)
	}
	return out
}

func (s *Store) ReportSummary(ctx context.Context, filter domain.ReportFilter) (domain.ReportSummary, error) {
	var summary domain.ReportSummary
	for _, sale := range s.view(ctx).paidSales(filter) {
		summary.GrossSales += sale.Total
		summary.Transactions++
	}
	return summary, nil
}

func (s *Store) ReportSales(ctx context.Context, filter domain.ReportFilter) ([]domain.Sale, error) {
	out := s.view(ctx).paidSales(filter)
	newestFirst(out, saleTime, saleID)
	return head(out, clampLimit(filter.Limit, 200)), nil
}

func (s *Store) ReportTopProducts(ctx context.Context, filter domain.ReportFilter) ([]domain.TopProduct, error) {
	st := s.view(ctx)
	type groupKey struct {
		productID int64
		name      string
		barcode   string
	}
	groups := make(map[groupKey]*domain.TopProduct)
	for _, sale := range st.paidSales(filter) {
		for _, item := range st.saleItems[sale.ID] {
			key := groupKey{item.ProductID, item.Name, item.Barcode}
			row, ok := groups[key]
			if !ok {
				row = &domain.TopProduct{ProductID: item.ProductID, Name: item.Name, Barcode: item.Barcode}
				groups[key] = row
			}
			row.QtySold += item.Qty
			row.Revenue += item.LineTotal
			row.CostTotal += item.Cost * item.Qty
		}
	}
	out := make([]domain.TopProduct, 0, len(groups))
	for _, row := range groups {
		row.Profit = row.Revenue - row.CostTotal
		out = append(out, *row)
	}
	slices.SortFunc(out, func(a, b domain.TopProduct) int {
		if c := cmp.Compare(b.QtySold, a.QtySold); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Revenue, a.Revenue); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return head(out, clampLimit(filter.Limit, 30)), nil
}
