// Package memory is an in-process implementation of store.Repository used
// for local development and tests. It enforces the same keys as the
// relational schema.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ticket-service/internal/apperr"
	"ticket-service/internal/catalog"
	"ticket-service/internal/models"
	"ticket-service/internal/store"
)

// Store keeps all rows in maps guarded by one mutex
type Store struct {
	mu        sync.Mutex
	products  map[string]models.Product
	purchases map[string]models.Purchase
	lineItems map[string][]models.PurchaseLineItem
	documents map[string]models.PurchaseDocument
	events    map[string]string
	users     map[string]bool
}

// New creates an empty store. When users are given, purchases are checked
// against them the way the usuarios foreign key does.
func New(users ...string) *Store {
	s := &Store{
		products:  make(map[string]models.Product),
		purchases: make(map[string]models.Purchase),
		lineItems: make(map[string][]models.PurchaseLineItem),
		documents: make(map[string]models.PurchaseDocument),
		events:    make(map[string]string),
	}
	if len(users) > 0 {
		s.users = make(map[string]bool, len(users))
		for _, u := range users {
			s.users[u] = true
		}
	}
	return s
}

var _ store.Repository = (*Store)(nil)

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// GetPurchase returns the purchase with the given invoice number, or nil
func (s *Store) GetPurchase(ctx context.Context, invoice string) (*models.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[invoice]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// GetProduct returns a catalog entry by normalized name, or nil
func (s *Store) GetProduct(ctx context.Context, name string) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[name]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// GetLineItems returns the line items of a purchase in insertion order
func (s *Store) GetLineItems(ctx context.Context, invoice string) ([]models.PurchaseLineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := append([]models.PurchaseLineItem(nil), s.lineItems[invoice]...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].ProductName < items[j].ProductName })
	return items, nil
}

// GetDocument returns the attachment of a purchase, or nil
func (s *Store) GetDocument(ctx context.Context, invoice string) (*models.PurchaseDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.documents[invoice]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

// TicketHistory lists the purchases of a user, newest first, using the same
// paging bounds as the SQL store
func (s *Store) TicketHistory(ctx context.Context, userEmail string, limit, offset int) ([]models.TicketHistoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit, offset = store.PageBounds(limit, offset)

	items := []models.TicketHistoryItem{}
	for _, p := range s.purchases {
		if p.UserEmail != userEmail {
			continue
		}
		items = append(items, models.TicketHistoryItem{
			InvoiceNumber: p.InvoiceNumber,
			Timestamp:     p.Timestamp,
			Total:         p.Total,
			Store:         p.Store,
			Location:      p.Location,
			ItemCount:     int64(len(s.lineItems[p.InvoiceNumber])),
			CreatedAt:     p.CreatedAt,
		})
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].Timestamp.After(items[j].Timestamp)
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	if offset >= len(items) {
		return []models.TicketHistoryItem{}, nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// IsEventProcessed reports whether eventID was already handled
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.events[eventID]
	return ok, nil
}

// MarkEventProcessed records eventID; marking twice is a no-op
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[eventID]; !ok {
		s.events[eventID] = eventType
	}
	return nil
}

// Counts reports the number of stored purchases, line items, products and
// documents.
func (s *Store) Counts() (purchases, lineItems, products, documents int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, items := range s.lineItems {
		lineItems += len(items)
	}
	return len(s.purchases), lineItems, len(s.products), len(s.documents)
}

// WithTx stages writes in a copy-on-write transaction that is applied only
// when fn succeeds. The store lock is held for the whole transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store.Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		parent:    s,
		products:  make(map[string]models.Product),
		purchases: make(map[string]models.Purchase),
		lineItems: make(map[string][]models.PurchaseLineItem),
		documents: make(map[string]models.PurchaseDocument),
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.Internal, err, "transaction aborted")
	}

	for k, v := range tx.products {
		s.products[k] = v
	}
	for k, v := range tx.purchases {
		s.purchases[k] = v
	}
	for k, v := range tx.lineItems {
		s.lineItems[k] = append(s.lineItems[k], v...)
	}
	for k, v := range tx.documents {
		s.documents[k] = v
	}
	return nil
}

type memTx struct {
	parent    *Store
	products  map[string]models.Product
	purchases map[string]models.Purchase
	lineItems map[string][]models.PurchaseLineItem
	documents map[string]models.PurchaseDocument
}

func (tx *memTx) product(name string) *models.Product {
	if p, ok := tx.products[name]; ok {
		return &p
	}
	if p, ok := tx.parent.products[name]; ok {
		return &p
	}
	return nil
}

func (tx *memTx) hasPurchase(invoice string) bool {
	if _, ok := tx.purchases[invoice]; ok {
		return true
	}
	_, ok := tx.parent.purchases[invoice]
	return ok
}

func (tx *memTx) UpsertProduct(ctx context.Context, p *models.ProductUpsert) (*models.Product, error) {
	merged := catalog.Merge(tx.product(p.Name), p)
	tx.products[p.Name] = merged
	return &merged, nil
}

func (tx *memTx) InsertPurchase(ctx context.Context, p *models.Purchase) error {
	if tx.hasPurchase(p.InvoiceNumber) {
		return apperr.Integrity(apperr.ConstraintUnique, "compras_pkey", nil)
	}
	if tx.parent.users != nil && !tx.parent.users[p.UserEmail] {
		return apperr.Integrity(apperr.ConstraintForeignKey, "compras_usuario_email_fkey", nil)
	}
	if p.Total.IsNegative() {
		return apperr.Integrity(apperr.ConstraintCheck, "compras_total_check", nil)
	}

	p.Timestamp = p.Timestamp.UTC()
	p.CreatedAt = time.Now().UTC()
	tx.purchases[p.InvoiceNumber] = *p
	return nil
}

func (tx *memTx) InsertLineItem(ctx context.Context, item *models.PurchaseLineItem) (int64, error) {
	if !tx.hasPurchase(item.InvoiceNumber) {
		return 0, apperr.Integrity(apperr.ConstraintForeignKey, "compras_productos_compra_numero_factura_fkey", nil)
	}
	if tx.product(item.ProductName) == nil {
		return 0, apperr.Integrity(apperr.ConstraintForeignKey, "compras_productos_producto_nombre_fkey", nil)
	}

	tx.lineItems[item.InvoiceNumber] = append(tx.lineItems[item.InvoiceNumber], *item)
	return 1, nil
}

func (tx *memTx) InsertDocument(ctx context.Context, doc *models.PurchaseDocument) error {
	if !tx.hasPurchase(doc.InvoiceNumber) {
		return apperr.Integrity(apperr.ConstraintForeignKey, "tickets_pdf_numero_factura_fkey", nil)
	}
	if _, ok := tx.documents[doc.InvoiceNumber]; ok {
		return apperr.Integrity(apperr.ConstraintUnique, "tickets_pdf_pkey", nil)
	}
	if _, ok := tx.parent.documents[doc.InvoiceNumber]; ok {
		return apperr.Integrity(apperr.ConstraintUnique, "tickets_pdf_pkey", nil)
	}

	doc.SizeBytes = len(doc.Content)
	doc.CreatedAt = time.Now().UTC()
	tx.documents[doc.InvoiceNumber] = *doc
	return nil
}
