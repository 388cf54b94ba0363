package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tbourn/go-review-backend/internal/domain"
)

// legacyFechaLayout is the timestamp format of versions written as strings.
const legacyFechaLayout = "2006-01-02 15:04:05"

// MongoStore keeps one document per submission:
//
//	{_id, id_sub, id_user, id_pdf, titulo, last_version, updated_at,
//	 versiones: [{numero, fecha, id_pdf, checklist, kind, preguntas_respuestas}]}
//
// Documents without last_version or kind (written by earlier deployments)
// are read and appended to as well.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore returns a Store over coll. Call EnsureIndexes once at startup.
func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

// ConnectMongo dials uri and verifies the connection.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// EnsureIndexes creates the unique (titulo, id_user) index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "titulo", Value: 1}, {Key: "id_user", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("ux_titulo_id_user"),
	})
	return classifyMongo(err)
}

func keyFilter(key domain.SubmissionKey) bson.D {
	return bson.D{{Key: "titulo", Value: key.Title}, {Key: "id_user", Value: key.UserID}}
}

func (s *MongoStore) FindOne(ctx context.Context, key domain.SubmissionKey) (*domain.Submission, error) {
	raw, err := s.coll.FindOne(ctx, keyFilter(key)).Raw()
	if err != nil {
		return nil, classifyMongo(err)
	}
	return decodeSubmission(raw)
}

func (s *MongoStore) Head(ctx context.Context, key domain.SubmissionKey) (string, int, error) {
	opts := options.FindOne().SetProjection(bson.D{
		{Key: "_id", Value: 1},
		{Key: "id_sub", Value: 1},
		{Key: "last_version", Value: 1},
		{Key: "versiones.numero", Value: 1},
	})
	var doc mongoDoc
	if err := s.coll.FindOne(ctx, keyFilter(key), opts).Decode(&doc); err != nil {
		return "", 0, classifyMongo(err)
	}
	return doc.submissionID(), doc.lastVersion(), nil
}

func (s *MongoStore) DistinctTitles(ctx context.Context, userID string) ([]string, error) {
	vals, err := s.coll.Distinct(ctx, "titulo", bson.D{{Key: "id_user", Value: userID}})
	if err != nil {
		return nil, classifyMongo(err)
	}
	titles := make([]string, 0, len(vals))
	for _, v := range vals {
		if t, ok := v.(string); ok {
			titles = append(titles, t)
		}
	}
	sort.Strings(titles)
	return titles, nil
}

func (s *MongoStore) Insert(ctx context.Context, sub *domain.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	versions := bson.A{}
	for _, v := range sub.Versions {
		doc, err := encodeVersion(v)
		if err != nil {
			return err
		}
		versions = append(versions, doc)
	}
	doc := bson.D{
		{Key: "id_sub", Value: sub.ID},
		{Key: "id_user", Value: sub.UserID},
		{Key: "id_pdf", Value: sub.DocumentID},
		{Key: "titulo", Value: sub.Title},
		{Key: "created_at", Value: sub.CreatedAt},
		{Key: "updated_at", Value: time.Now().UTC()},
		{Key: "last_version", Value: sub.LastVersion()},
		{Key: "versiones", Value: versions},
	}
	_, err := s.coll.InsertOne(ctx, doc)
	return classifyMongo(err)
}

func (s *MongoStore) PushVersion(ctx context.Context, key domain.SubmissionKey, expectedLast int, v domain.Version) error {
	if v.Number != expectedLast+1 {
		return ErrVersionConflict
	}
	entry, err := encodeVersion(v)
	if err != nil {
		return err
	}
	filter := pushFilter(key, expectedLast)
	update := bson.D{
		{Key: "$push", Value: bson.D{{Key: "versiones", Value: entry}}},
		{Key: "$set", Value: bson.D{
			{Key: "last_version", Value: v.Number},
			{Key: "updated_at", Value: time.Now().UTC()},
		}},
	}
	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return classifyMongo(err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	n, err := s.coll.CountDocuments(ctx, keyFilter(key))
	if err != nil {
		return classifyMongo(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrVersionConflict
}

// pushFilter matches the submission only while its latest version is
// expectedLast. Documents without last_version are matched on their highest
// numero instead; their arrays may hold duplicate numbers, so the array size
// is not usable.
func pushFilter(key domain.SubmissionKey, expectedLast int) bson.D {
	legacy := bson.A{
		bson.D{{Key: "versiones.numero", Value: bson.D{{Key: "$not", Value: bson.D{{Key: "$gt", Value: expectedLast}}}}}},
	}
	if expectedLast > 0 {
		legacy = append(legacy, bson.D{{Key: "versiones.numero", Value: expectedLast}})
	}
	return append(keyFilter(key), bson.E{Key: "$or", Value: bson.A{
		bson.D{{Key: "last_version", Value: expectedLast}},
		bson.D{
			{Key: "last_version", Value: bson.D{{Key: "$exists", Value: false}}},
			{Key: "$and", Value: legacy},
		},
	}})
}

func (s *MongoStore) Delete(ctx context.Context, key domain.SubmissionKey) (int64, error) {
	res, err := s.coll.DeleteOne(ctx, keyFilter(key))
	if err != nil {
		return 0, classifyMongo(err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) Stats(ctx context.Context, userID string) (int64, *time.Time, error) {
	filter := bson.D{{Key: "id_user", Value: userID}}
	n, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, nil, classifyMongo(err)
	}
	if n == 0 {
		return 0, nil, nil
	}
	var row struct {
		UpdatedAt time.Time `bson:"updated_at"`
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}}).SetProjection(bson.D{{Key: "updated_at", Value: 1}})
	if err := s.coll.FindOne(ctx, filter, opts).Decode(&row); err != nil {
		return 0, nil, classifyMongo(err)
	}
	ts := row.UpdatedAt.UTC()
	return n, &ts, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.coll.Database().Client().Ping(ctx, nil); err != nil {
		return unavailable(err)
	}
	return nil
}

func classifyMongo(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrDuplicate
	case mongo.IsTimeout(err), mongo.IsNetworkError(err):
		return unavailable(err)
	}
	return classify(err)
}

// encodeVersion converts a version into its BSON sub-document. The results
// payload is stored as an embedded document so it stays queryable.
func encodeVersion(v domain.Version) (bson.D, error) {
	var results any = bson.D{}
	if len(v.Results.Payload) > 0 {
		var doc bson.D
		if err := bson.UnmarshalExtJSON(v.Results.Payload, false, &doc); err != nil {
			return nil, fmt.Errorf("encode results: %w", err)
		}
		results = doc
	}
	return bson.D{
		{Key: "numero", Value: v.Number},
		{Key: "fecha", Value: v.Timestamp.UTC()},
		{Key: "id_pdf", Value: v.DocumentID},
		{Key: "checklist", Value: v.Checklist},
		{Key: "kind", Value: string(v.Results.Kind)},
		{Key: "preguntas_respuestas", Value: results},
	}, nil
}

type mongoDoc struct {
	ID          any            `bson:"_id"`
	SubID       string         `bson:"id_sub"`
	UserID      string         `bson:"id_user"`
	PdfID       string         `bson:"id_pdf"`
	Title       string         `bson:"titulo"`
	CreatedAt   *time.Time     `bson:"created_at"`
	LastVersion *int           `bson:"last_version"`
	Versions    []mongoVersion `bson:"versiones"`
}

type mongoVersion struct {
	Number    int           `bson:"numero"`
	Fecha     bson.RawValue `bson:"fecha"`
	PdfID     string        `bson:"id_pdf"`
	Checklist string        `bson:"checklist"`
	Kind      string        `bson:"kind"`
	Results   bson.Raw      `bson:"preguntas_respuestas"`
}

// submissionID prefers id_sub; legacy documents only have the ObjectID.
func (d mongoDoc) submissionID() string {
	if d.SubID != "" {
		return d.SubID
	}
	switch id := NormalizeIDs(d.ID).(type) {
	case nil:
		return ""
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}

func (d mongoDoc) lastVersion() int {
	last := 0
	if d.LastVersion != nil {
		last = *d.LastVersion
	}
	for _, v := range d.Versions {
		if v.Number > last {
			last = v.Number
		}
	}
	return last
}

// decodeSubmission maps a stored document onto the domain type. Results
// payloads are re-encoded from the raw BSON so their key order is the order
// the model produced.
func decodeSubmission(raw bson.Raw) (*domain.Submission, error) {
	var doc mongoDoc
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode submission: %w", err)
	}
	sub := &domain.Submission{
		ID:         doc.submissionID(),
		UserID:     doc.UserID,
		Title:      doc.Title,
		DocumentID: doc.PdfID,
		Versions:   make([]domain.Version, 0, len(doc.Versions)),
	}
	for _, mv := range doc.Versions {
		docID := mv.PdfID
		if docID == "" {
			docID = doc.PdfID
		}
		var payload []byte
		if len(mv.Results) > 0 {
			b, err := bson.MarshalExtJSON(mv.Results, false, false)
			if err != nil {
				return nil, fmt.Errorf("decode results of version %d: %w", mv.Number, err)
			}
			payload = b
		}
		sub.Versions = append(sub.Versions, domain.Version{
			Number:     mv.Number,
			Timestamp:  parseFecha(mv.Fecha),
			DocumentID: docID,
			Checklist:  mv.Checklist,
			Results:    storedResults(mv.Kind, payload),
		})
	}
	sort.SliceStable(sub.Versions, func(i, j int) bool { return sub.Versions[i].Number < sub.Versions[j].Number })
	switch {
	case doc.CreatedAt != nil:
		sub.CreatedAt = doc.CreatedAt.UTC()
	case len(sub.Versions) > 0:
		sub.CreatedAt = sub.Versions[0].Timestamp
	}
	return sub, nil
}

// parseFecha accepts BSON dates and the string layouts older writers used.
func parseFecha(v bson.RawValue) time.Time {
	switch v.Type {
	case bson.TypeDateTime:
		return v.Time().UTC()
	case bson.TypeString:
		s := v.StringValue()
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC()
		}
		if t, err := time.ParseInLocation(legacyFechaLayout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

// storedResults rebuilds a Results value. Legacy entries carry no kind; their
// error payload has the shape {"error": ..., "raw": ...}.
func storedResults(kind string, payload json.RawMessage) domain.Results {
	if kind != "" {
		return domain.Results{Kind: domain.ResultKind(kind), Payload: payload}
	}
	var items map[string]json.RawMessage
	if err := json.Unmarshal(payload, &items); err != nil {
		return domain.NewDecodeFailure(string(payload))
	}
	if _, hasErr := items["error"]; hasErr {
		var raw string
		_ = json.Unmarshal(items["raw"], &raw)
		return domain.NewDecodeFailure(raw)
	}
	for _, v := range items {
		if len(v) == 0 || v[0] != '"' {
			return domain.Results{Kind: domain.ResultAnnotated, Payload: payload}
		}
	}
	return domain.Results{Kind: domain.ResultFlat, Payload: payload}
}
