package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/zmcp/odata-codec/internal/client"
	"github.com/zmcp/odata-codec/internal/config"
	"github.com/zmcp/odata-codec/internal/constants"
	"github.com/zmcp/odata-codec/internal/debug"
	"github.com/zmcp/odata-codec/internal/keys"
	"github.com/zmcp/odata-codec/internal/metadata"
	"github.com/zmcp/odata-codec/internal/models"
	"github.com/zmcp/odata-codec/internal/reader"
	"github.com/zmcp/odata-codec/internal/segment"
	"github.com/zmcp/odata-codec/internal/updatable"
	"github.com/zmcp/odata-codec/internal/updatable/redisstore"
	"github.com/zmcp/odata-codec/internal/writer"
)

// entityStore is what both commands need from a backend
type entityStore interface {
	updatable.Updatable
	writer.Source
	Page(setName, skipToken string, pageSize int) (*writer.SliceEnumerator, error)
	Entities(setName string) []*updatable.Record
}

// session is the state shared by one command run
type session struct {
	cfg      *config.Config
	provider *metadata.Provider
	store    entityStore
	logger   *zap.Logger
	trace    *debug.TraceLogger
	closers  []func() error
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if cfg.MetadataFile == "" {
		return nil, fmt.Errorf("metadata document not provided. Use --metadata or the ODATA_METADATA environment variable")
	}

	s := &session{cfg: cfg, logger: zap.NewNop()}
	if cfg.Verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			s.logger = logger
			s.closers = append(s.closers, func() error { logger.Sync(); return nil })
		}
	}

	data, err := s.readMetadata(ctx)
	if err != nil {
		return nil, err
	}
	meta, err := metadata.ParseMetadata(data, cfg.ServiceRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	s.provider = metadata.NewProvider(meta)
	summary := meta.Summary()
	verbosef("Loaded metadata %s: %d entity sets, %d entity types", cfg.MetadataFile, summary.EntitySets, summary.EntityTypes)
	if imports := meta.OperationImports(); len(imports) > 0 {
		verbosef("Operation imports: %s", strings.Join(imports, ", "))
	}

	if s.trace, err = debug.NewTraceLogger(cfg.Trace); err != nil {
		return nil, err
	}
	if cfg.Trace {
		verbosef("Tracing structural events to %s", s.trace.GetFilename())
		s.closers = append(s.closers, s.trace.Close)
	}

	if !cfg.UsesRedis() {
		s.store = updatable.NewMemoryStore(s.provider, updatable.WithLogger(s.logger))
		return s, nil
	}

	store, err := redisstore.New(s.provider, redisstore.Config{URL: cfg.RedisURL, KeyPrefix: cfg.RedisPrefix}, s.logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, store.Close)
	if err := store.Ping(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", debug.MaskURL(cfg.RedisURL), err)
	}
	if err := store.Load(ctx, setNames(meta)...); err != nil {
		s.Close()
		return nil, err
	}
	verbosef("Loaded entities from redis at %s", debug.MaskURL(cfg.RedisURL))
	s.store = store
	return s, nil
}

// readMetadata loads the document from a file, or from the service when
// the metadata setting is an http(s) URL of its root
func (s *session) readMetadata(ctx context.Context) ([]byte, error) {
	src := s.cfg.MetadataFile
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata: %w", err)
		}
		return data, nil
	}

	c := client.NewMetadataClient(strings.TrimSuffix(src, constants.MetadataEndpoint), s.logger)
	if s.cfg.Username != "" {
		c.SetBasicAuth(s.cfg.Username, s.cfg.Password)
		verbosef("Authenticating as %s (password: %s)", s.cfg.Username, debug.MaskSecret(s.cfg.Password))
	}
	verbosef("Fetching metadata from %s", debug.MaskURL(c.URL()))
	data, err := c.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata: %w", err)
	}
	return data, nil
}

func setNames(meta *models.ODataMetadata) []string {
	names := make([]string, 0, len(meta.EntitySets))
	for name := range meta.EntitySets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases the trace file, logger and Redis connection
func (s *session) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// target builds the descriptor for an entity set, or one entity of it when
// keyText is set. keyText is the text between the parentheses of an edit
// link: "5" or "OrderId=...,ProductId=1".
func (s *session) target(setName, keyText string) (*segment.Descriptor, error) {
	set, ok := s.provider.EntitySet(setName)
	if !ok {
		return nil, fmt.Errorf("entity set %s is not in the metadata", setName)
	}
	t, ok := s.provider.EntitySetType(set)
	if !ok {
		return nil, fmt.Errorf("entity type of %s is not in the metadata", setName)
	}
	uri := keys.Absolute(s.cfg.ServiceRoot, setName)
	if keyText == "" {
		return segment.EntitySet(set, t, uri), nil
	}

	link, err := keys.ParseLink(setName+"("+keyText+")", "")
	if err != nil {
		return nil, err
	}
	key, err := link.Key(s.provider.KeyProperties(t))
	if err != nil {
		return nil, err
	}
	return segment.Entity(set, t, key, uri+"("+keyText+")"), nil
}

// readerOptions applies the configured limits
func (s *session) readerOptions(op reader.Operation, ifMatch string) reader.Options {
	return reader.Options{
		Operation:  op,
		IfMatch:    ifMatch,
		MaxDepth:   s.cfg.MaxDepth,
		MaxObjects: s.cfg.MaxObjects,
		Logger:     s.logger,
		Trace:      s.trace,
	}
}

// preload inserts the payloads named by --load, each given as Set=file
func (s *session) preload(ctx context.Context, loads []string) error {
	for _, load := range loads {
		setName, file, ok := strings.Cut(load, "=")
		if !ok || setName == "" || file == "" {
			return fmt.Errorf("invalid --load value %q, expected Set=file.json", load)
		}
		target, err := s.target(setName, "")
		if err != nil {
			return err
		}
		body, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", file, err)
		}
		d, err := reader.New(target, s.provider, s.store, s.readerOptions(reader.OperationInsert, ""))
		if err == nil {
			_, err = d.Deserialize(ctx, body, "application/json")
		}
		body.Close()
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
		if err := s.store.SaveChanges(ctx); err != nil {
			return err
		}
		verbosef("Loaded %s into %s", file, setName)
	}
	return nil
}

// writerOptions applies the configured response policy
func (s *session) writerOptions() (writer.Options, error) {
	interp, err := s.cfg.Interpreter()
	if err != nil {
		return writer.Options{}, err
	}
	return writer.Options{
		Interpreter: interp,
		MaxDepth:    s.cfg.MaxDepth,
		Logger:      s.logger,
		Trace:       s.trace,
	}, nil
}
