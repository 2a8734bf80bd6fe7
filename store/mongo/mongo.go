/*
Package mongo provides a MongoDB-backed implementation of ledger.TxStore.

PURPOSE:
  Persists the ledger in five collections (counterparties, advances,
  transactions, batches, prices) plus a counters collection that hands out
  price sequence numbers.

TRANSACTIONS:
  WithTx runs fn inside a multi-document transaction via
  Session.WithTransaction, which needs a replica set. The view passed to fn
  ignores the caller's ctx and uses the session context, so every read and
  write joins the transaction. Transient errors (write conflicts) make the
  driver re-run fn; ledger components re-read everything on each run.

STORAGE FORMAT:
  - decimal.Decimal is stored as a string through a registry codec, so
    values round-trip exactly
  - times are BSON dates (millisecond precision)
  - advances.outstanding and batches.in_stock mirror the decimal fields for
    filtering

USAGE:
  store, err := mongo.Connect(ctx, cfg.MongoURL, cfg.MongoDatabase)
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close(context.Background())
*/
package mongo

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/goldtrader/gold-ledger/ledger"
)

const (
	colCounterparties = "counterparties"
	colAdvances       = "advances"
	colTransactions   = "transactions"
	colBatches        = "batches"
	colPrices         = "prices"
	colCounters       = "counters"

	priceCounter = "prices"
)

// Store implements ledger.TxStore using MongoDB.
type Store struct {
	conn
	client *mongo.Client
}

// Connect opens a client, pings the server and ensures indexes.
func Connect(ctx context.Context, url, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url).SetRegistry(Registry()))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &Store{conn: conn{db: client.Database(database)}, client: client}
	if err := s.EnsureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the unique and query indexes and seeds the price
// counter. Safe to call repeatedly.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		colCounterparties: {
			{Keys: bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}},
		},
		colAdvances: {
			{Keys: bson.D{{Key: "counterparty_id", Value: 1}, {Key: "given_date", Value: 1}}},
		},
		colTransactions: {
			{Keys: bson.D{{Key: "receipt_number", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "counterparty_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colBatches: {
			{Keys: bson.D{{Key: "location", Value: 1}, {Key: "gold_type", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colPrices: {
			{Keys: bson.D{{Key: "seq", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "commodity", Value: 1}, {Key: "timestamp", Value: 1}, {Key: "seq", Value: 1}}},
		},
	}
	for name, models := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", name, err)
		}
	}
	_, err := s.db.Collection(colCounters).UpdateOne(ctx,
		bson.M{"_id": priceCounter},
		bson.M{"$setOnInsert": bson.M{"seq": int64(0)}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("seed price counter: %w", err)
	}
	return nil
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	for _, name := range []string{colCounterparties, colAdvances, colTransactions, colBatches, colPrices} {
		if _, err := s.db.Collection(name).DeleteMany(ctx, bson.M{}); err != nil {
			return fmt.Errorf("reset %s: %w", name, err)
		}
	}
	_, err := s.db.Collection(colCounters).UpdateOne(ctx,
		bson.M{"_id": priceCounter}, bson.M{"$set": bson.M{"seq": int64(0)}}, options.Update().SetUpsert(true))
	return err
}

// WithTx executes fn within a multi-document transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(&conn{db: s.db, sc: sc})
	})
	return err
}

// conn implements ledger.Store. Inside WithTx sc is set and replaces the
// caller's context.
type conn struct {
	db *mongo.Database
	sc mongo.SessionContext
}

func (c *conn) ctx(ctx context.Context) context.Context {
	if c.sc != nil {
		return c.sc
	}
	return ctx
}

func (c *conn) col(name string) *mongo.Collection { return c.db.Collection(name) }

// =============================================================================
// COUNTERPARTIES
// =============================================================================

func (c *conn) InsertCounterparty(ctx context.Context, cp ledger.Counterparty) error {
	_, err := c.col(colCounterparties).InsertOne(c.ctx(ctx), fromCounterparty(cp))
	return insertError("counterparty", err)
}

func (c *conn) GetCounterparty(ctx context.Context, id ledger.CounterpartyID) (*ledger.Counterparty, error) {
	var d counterpartyDoc
	found, err := c.findOne(ctx, colCounterparties, bson.M{"_id": string(id)}, &d)
	if err != nil || !found {
		return nil, err
	}
	cp := d.model()
	return &cp, nil
}

func (c *conn) UpdateCounterparty(ctx context.Context, cp ledger.Counterparty) error {
	d := fromCounterparty(cp)
	d.Version = cp.Version + 1
	return c.replaceVersioned(ctx, colCounterparties, d.ID, cp.Version, d)
}

func (c *conn) ListCounterparties(ctx context.Context, f ledger.CounterpartyFilter) ([]ledger.Counterparty, error) {
	filter := bson.M{}
	if f.Type != "" {
		filter["type"] = string(f.Type)
	}
	if f.ActiveOnly {
		filter["is_active"] = true
	}
	if f.NameLike != "" {
		filter["name"] = primitive.Regex{Pattern: regexp.QuoteMeta(f.NameLike), Options: "i"}
	}
	var docs []counterpartyDoc
	sort := bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}
	if err := c.findAll(ctx, colCounterparties, filter, options.Find().SetSort(sort), &docs); err != nil {
		return nil, err
	}
	out := make([]ledger.Counterparty, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

// =============================================================================
// ADVANCES
// =============================================================================

func (c *conn) InsertAdvance(ctx context.Context, a ledger.Advance) error {
	_, err := c.col(colAdvances).InsertOne(c.ctx(ctx), fromAdvance(a))
	return insertError("advance", err)
}

func (c *conn) GetAdvance(ctx context.Context, id ledger.AdvanceID) (*ledger.Advance, error) {
	var d advanceDoc
	found, err := c.findOne(ctx, colAdvances, bson.M{"_id": string(id)}, &d)
	if err != nil || !found {
		return nil, err
	}
	a := d.model()
	return &a, nil
}

func (c *conn) UpdateAdvance(ctx context.Context, a ledger.Advance) error {
	d := fromAdvance(a)
	d.Version = a.Version + 1
	return c.replaceVersioned(ctx, colAdvances, d.ID, a.Version, d)
}

func (c *conn) ListAdvances(ctx context.Context, f ledger.AdvanceFilter) ([]ledger.Advance, error) {
	filter := bson.M{}
	if f.CounterpartyID != "" {
		filter["counterparty_id"] = string(f.CounterpartyID)
	}
	if f.OutstandingOnly {
		filter["outstanding"] = true
	}
	var docs []advanceDoc
	sort := bson.D{{Key: "given_date", Value: 1}, {Key: "_id", Value: 1}}
	if err := c.findAll(ctx, colAdvances, filter, options.Find().SetSort(sort), &docs); err != nil {
		return nil, err
	}
	out := make([]ledger.Advance, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONS (append-only)
// =============================================================================

func (c *conn) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	_, err := c.col(colTransactions).InsertOne(c.ctx(ctx), fromTransaction(tx))
	return insertError("transaction", err)
}

func (c *conn) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return c.getTransaction(ctx, bson.M{"_id": string(id)})
}

func (c *conn) GetTransactionByReceipt(ctx context.Context, receipt string) (*ledger.Transaction, error) {
	return c.getTransaction(ctx, bson.M{"receipt_number": receipt})
}

func (c *conn) getTransaction(ctx context.Context, filter bson.M) (*ledger.Transaction, error) {
	var d transactionDoc
	found, err := c.findOne(ctx, colTransactions, filter, &d)
	if err != nil || !found {
		return nil, err
	}
	tx := d.model()
	return &tx, nil
}

func (c *conn) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	filter := bson.M{}
	if f.CounterpartyID != "" {
		filter["counterparty_id"] = string(f.CounterpartyID)
	}
	if f.Type != "" {
		filter["type"] = string(f.Type)
	}
	if f.From != nil || f.To != nil {
		window := bson.M{}
		if f.From != nil {
			window["$gte"] = *f.From
		}
		if f.To != nil {
			window["$lte"] = *f.To
		}
		filter["created_at"] = window
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "receipt_number", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	var docs []transactionDoc
	if err := c.findAll(ctx, colTransactions, filter, opts, &docs); err != nil {
		return nil, err
	}
	out := make([]ledger.Transaction, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

// =============================================================================
// BATCHES
// =============================================================================

func (c *conn) InsertBatch(ctx context.Context, b ledger.Batch) error {
	_, err := c.col(colBatches).InsertOne(c.ctx(ctx), fromBatch(b))
	return insertError("batch", err)
}

func (c *conn) GetBatch(ctx context.Context, id ledger.BatchID) (*ledger.Batch, error) {
	var d batchDoc
	found, err := c.findOne(ctx, colBatches, bson.M{"_id": string(id)}, &d)
	if err != nil || !found {
		return nil, err
	}
	b := d.model()
	return &b, nil
}

func (c *conn) UpdateBatch(ctx context.Context, b ledger.Batch) error {
	d := fromBatch(b)
	d.Version = b.Version + 1
	return c.replaceVersioned(ctx, colBatches, d.ID, b.Version, d)
}

func (c *conn) ListBatches(ctx context.Context, f ledger.BatchFilter) ([]ledger.Batch, error) {
	filter := bson.M{}
	if f.Location != "" {
		filter["location"] = string(f.Location)
	}
	if f.GoldType != "" {
		filter["gold_type"] = f.GoldType
	}
	if f.InStockOnly {
		filter["in_stock"] = true
	}
	var docs []batchDoc
	sort := bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}
	if err := c.findAll(ctx, colBatches, filter, options.Find().SetSort(sort), &docs); err != nil {
		return nil, err
	}
	out := make([]ledger.Batch, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

// =============================================================================
// PRICES (append-only)
// =============================================================================

func (c *conn) InsertPrice(ctx context.Context, p ledger.PriceObservation) (ledger.PriceObservation, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := c.col(colCounters).FindOneAndUpdate(c.ctx(ctx),
		bson.M{"_id": priceCounter},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return p, fmt.Errorf("next price sequence: %w", err)
	}
	p.Sequence = counter.Seq

	if _, err := c.col(colPrices).InsertOne(c.ctx(ctx), fromPrice(p)); err != nil {
		return p, insertError("price", err)
	}
	return p, nil
}

func (c *conn) LatestPrice(ctx context.Context, commodity ledger.Commodity, at *time.Time) (*ledger.PriceObservation, error) {
	filter := bson.M{"commodity": string(commodity)}
	if at != nil {
		filter["timestamp"] = bson.M{"$lte": *at}
	}
	var d priceDoc
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "seq", Value: -1}})
	found, err := c.findOne(ctx, colPrices, filter, &d, opts)
	if err != nil || !found {
		return nil, err
	}
	p := d.model()
	return &p, nil
}

func (c *conn) ListPrices(ctx context.Context, commodity ledger.Commodity, from, to time.Time) ([]ledger.PriceObservation, error) {
	filter := bson.M{
		"commodity": string(commodity),
		"timestamp": bson.M{"$gte": from, "$lte": to},
	}
	var docs []priceDoc
	sort := bson.D{{Key: "timestamp", Value: 1}, {Key: "seq", Value: 1}}
	if err := c.findAll(ctx, colPrices, filter, options.Find().SetSort(sort), &docs); err != nil {
		return nil, err
	}
	out := make([]ledger.PriceObservation, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// findOne decodes the first match into out. found is false when nothing matched.
func (c *conn) findOne(ctx context.Context, name string, filter bson.M, out any, opts ...*options.FindOneOptions) (bool, error) {
	err := c.col(name).FindOne(c.ctx(ctx), filter, opts...).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find %s: %w", name, err)
	}
	return true, nil
}

func (c *conn) findAll(ctx context.Context, name string, filter bson.M, opts *options.FindOptions, out any) error {
	cur, err := c.col(name).Find(c.ctx(ctx), filter, opts)
	if err != nil {
		return fmt.Errorf("find %s: %w", name, err)
	}
	if err := cur.All(c.ctx(ctx), out); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// replaceVersioned is the compare-and-swap write: it only matches the
// document still carrying the version that was read.
func (c *conn) replaceVersioned(ctx context.Context, name, id string, version int64, doc any) error {
	res, err := c.col(name).ReplaceOne(c.ctx(ctx), bson.M{"_id": id, "version": version}, doc)
	if err != nil {
		return fmt.Errorf("update %s: %w", name, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update %s %s: %w", name, id, ledger.ErrConcurrencyConflict)
	}
	return nil
}

func insertError(entity string, err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("insert %s: %w", entity, ledger.ErrDuplicateKey)
	}
	return fmt.Errorf("insert %s: %w", entity, err)
}

// =============================================================================
// DECIMAL CODEC
// =============================================================================

var decimalType = reflect.TypeOf(decimal.Decimal{})

// Registry is the default BSON registry plus a string codec for
// decimal.Decimal.
func Registry() *bsoncodec.Registry {
	reg := bson.NewRegistry()
	reg.RegisterTypeEncoder(decimalType, bsoncodec.ValueEncoderFunc(encodeDecimal))
	reg.RegisterTypeDecoder(decimalType, bsoncodec.ValueDecoderFunc(decodeDecimal))
	return reg
}

func encodeDecimal(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != decimalType {
		return bsoncodec.ValueEncoderError{Name: "DecimalEncodeValue", Types: []reflect.Type{decimalType}, Received: val}
	}
	return vw.WriteString(val.Interface().(decimal.Decimal).String())
}

func decodeDecimal(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Type() != decimalType {
		return bsoncodec.ValueDecoderError{Name: "DecimalDecodeValue", Types: []reflect.Type{decimalType}, Received: val}
	}
	s, err := vr.ReadString()
	if err != nil {
		return err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("decode decimal %q: %w", s, err)
	}
	val.Set(reflect.ValueOf(d))
	return nil
}
