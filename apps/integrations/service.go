package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/getevo/evo/v2/lib/log"

	"github.com/lydiehq/lydie-sub003/apps/integrations/drivers"
	"github.com/lydiehq/lydie-sub003/apps/models"
)

// ErrConnectionDisabled is returned for operations on a disconnected connection.
var ErrConnectionDisabled = errors.New("integration connection is disabled")

// Store persists connections and the outcome of sync operations.
type Store interface {
	CreateConnection(ctx context.Context, conn *models.IntegrationConnection, config []byte, links []models.IntegrationLink) error
	GetConnection(ctx context.Context, id string) (*models.IntegrationConnection, []byte, error)
	ListConnections(ctx context.Context) ([]models.IntegrationConnection, error)
	GetLink(ctx context.Context, id string) (*models.IntegrationLink, error)
	ListLinks(ctx context.Context, connectionID string) ([]models.IntegrationLink, error)
	CreateLink(ctx context.Context, link *models.IntegrationLink) error
	GetSyncRecord(ctx context.Context, linkID, documentID string) (*models.SyncRecord, error)
	SaveSync(ctx context.Context, state models.SyncState) error
	DisableConnection(ctx context.Context, id, reason string) error
}

// Service runs provider operations for stored connections. It merges link config over
// connection config, serializes operations per connection and persists refreshed
// credentials together with each outcome.
type Service struct {
	registry *drivers.Registry
	store    Store
	locks    Locker
	events   EventPublisher
	cache    ResourceCache
	now      func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithLocker(locker Locker) ServiceOption {
	return func(s *Service) {
		if locker != nil {
			s.locks = locker
		}
	}
}

func WithEventPublisher(publisher EventPublisher) ServiceOption {
	return func(s *Service) { s.events = publisher }
}

func WithResourceCache(cache ResourceCache) ServiceOption {
	return func(s *Service) { s.cache = cache }
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a Service. Without options it locks in-process, publishes nothing
// and does not cache resources.
func NewService(registry *drivers.Registry, store Store, opts ...ServiceOption) *Service {
	s := &Service{
		registry: registry,
		store:    store,
		locks:    NewLocalLocker(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// target is a loaded connection, optionally narrowed to one link.
type target struct {
	row    *models.IntegrationConnection
	link   *models.IntegrationLink
	raw    []byte
	driver drivers.Integration
	conn   *drivers.Connection
	// config is the connection-only config with any refreshed credential applied. It is
	// non-nil only after a credential update.
	config []byte
}

func (s *Service) loadConnection(ctx context.Context, connectionID string) (*target, error) {
	row, raw, err := s.store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if row.Status == models.ConnectionStatusDisabled {
		return nil, fmt.Errorf("%w: %s", ErrConnectionDisabled, connectionID)
	}
	driver, err := s.registry.MustGet(row.Provider)
	if err != nil {
		return nil, err
	}
	conn, err := s.registry.LoadConnection(row.ID, row.Provider, raw, row.Metadata)
	if err != nil {
		return nil, err
	}
	return &target{row: row, raw: raw, driver: driver, conn: conn}, nil
}

func (s *Service) loadLink(ctx context.Context, linkID string) (*target, error) {
	link, err := s.store.GetLink(ctx, linkID)
	if err != nil {
		return nil, err
	}
	t, err := s.loadConnection(ctx, link.ConnectionID)
	if err != nil {
		return nil, err
	}
	merged, err := mergeConfig(t.raw, link.Config)
	if err != nil {
		return nil, fmt.Errorf("link %s: %w", linkID, err)
	}
	conn, err := s.registry.LoadConnection(t.row.ID, t.row.Provider, merged, t.row.Metadata)
	if err != nil {
		return nil, err
	}
	t.link, t.conn = link, conn
	return t, nil
}

// mergeConfig overlays the keys of overlay onto base. Both must be JSON objects or empty.
func mergeConfig(base, overlay []byte) ([]byte, error) {
	merged := map[string]any{}
	for _, part := range [][]byte{base, overlay} {
		if len(part) == 0 {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(part, &fields); err != nil {
			return nil, fmt.Errorf("%w: config is not a JSON object: %v", drivers.ErrInvalidConfig, err)
		}
		for key, value := range fields {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// absorb applies a credential update to the in-flight connection and prepares the
// connection-only config for persistence.
func (s *Service) absorb(t *target, update *drivers.CredentialUpdate) error {
	if update == nil {
		return nil
	}
	t.conn.ApplyCredential(update)

	source := t.raw
	if t.config != nil {
		source = t.config
	}
	cfg, err := t.driver.DecodeConfig(source)
	if err != nil {
		return err
	}
	stored := &drivers.Connection{ID: t.row.ID, Provider: t.row.Provider, Config: cfg}
	if !stored.ApplyCredential(update) {
		log.Warning("Integration %s: %s config does not accept credential updates", t.row.ID, t.row.Provider)
		return nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode refreshed config: %w", err)
	}
	t.config = data
	return nil
}

// finish persists state and publishes the event for operation.
func (s *Service) finish(ctx context.Context, t *target, operation string, state models.SyncState, event SyncEvent) error {
	state.ConnectionID = t.row.ID
	state.Config = t.config
	if t.link != nil {
		state.LinkID = t.link.ID
	}

	var err error
	if state.Config != nil || state.Status != "" || !state.SyncedAt.IsZero() || len(state.Records) > 0 || len(state.DeletedDocuments) > 0 {
		if err = s.store.SaveSync(ctx, state); err != nil {
			log.Error("Integration %s: failed to save %s outcome: %v", t.row.ID, operation, err)
			err = fmt.Errorf("failed to save %s outcome: %w", operation, err)
		}
	}

	event.ConnectionID = t.row.ID
	event.LinkID = state.LinkID
	event.Provider = t.row.Provider
	event.Operation = operation
	event.CredentialRefreshed = t.config != nil
	event.OccurredAt = s.now()
	publish(s.events, event)
	return err
}

func (s *Service) lock(ctx context.Context, t *target) (func(), error) {
	release, err := s.locks.Acquire(ctx, t.row.ID)
	if err != nil {
		return nil, fmt.Errorf("connection %s: %w", t.row.ID, err)
	}
	return release, nil
}

func failureState(err error) models.SyncState {
	return models.SyncState{Status: models.ConnectionStatusError, Error: err.Error()}
}

// Validate checks the link's merged config with the provider.
func (s *Service) Validate(ctx context.Context, linkID string) error {
	t, err := s.loadLink(ctx, linkID)
	if err != nil {
		return err
	}

	validateErr := t.driver.ValidateConnection(ctx, t.conn)
	state := models.SyncState{Status: models.ConnectionStatusActive}
	event := SyncEvent{Succeeded: 1}
	if validateErr != nil {
		state = failureState(validateErr)
		event = SyncEvent{Failed: 1, Error: validateErr.Error()}
	}
	log.Info("Integration validate: link %s (%s): %v", linkID, t.row.Provider, errorOrOK(validateErr))

	if err := s.finish(ctx, t, OperationValidate, state, event); err != nil && validateErr == nil {
		return err
	}
	return validateErr
}

// Push writes one document through the link. When the document was synced before and the
// provider supports it, a remote change since that sync is reported as a conflict instead
// of being overwritten.
func (s *Service) Push(ctx context.Context, linkID string, doc drivers.SyncDocument, commitMessage string) (drivers.SyncResult, error) {
	t, err := s.loadLink(ctx, linkID)
	if err != nil {
		return drivers.SyncResult{}, err
	}
	release, err := s.lock(ctx, t)
	if err != nil {
		return drivers.SyncResult{}, err
	}
	defer release()

	record, err := s.store.GetSyncRecord(ctx, linkID, doc.ID)
	if err != nil {
		return drivers.SyncResult{}, err
	}
	if record != nil && doc.LastSyncedRevision == "" {
		doc.LastSyncedRevision = record.Revision
	}

	result, decided := s.checkConflicts(ctx, t, doc, record)
	if !decided {
		var update *drivers.CredentialUpdate
		result, update = t.driver.Push(ctx, drivers.PushOptions{Document: doc, Connection: t.conn, CommitMessage: commitMessage})
		if err := s.absorb(t, update); err != nil {
			return result, err
		}
	}

	state := models.SyncState{}
	event := SyncEvent{Failed: 1, Error: result.Error}
	if result.Success {
		state.SyncedAt = s.now()
		state.Records = []models.SyncRecord{{
			LinkID:     linkID,
			DocumentID: doc.ID,
			ExternalID: result.ExternalID,
			Revision:   revisionOf(result),
		}}
		event = SyncEvent{Succeeded: 1}
	}
	log.Info("Integration push: link %s document %s: %s", linkID, doc.ID, resultSummary(result))

	return result, s.finish(ctx, t, OperationPush, state, event)
}

func (s *Service) checkConflicts(ctx context.Context, t *target, doc drivers.SyncDocument, record *models.SyncRecord) (drivers.SyncResult, bool) {
	checker, ok := t.driver.(drivers.ConflictCheckable)
	if !ok || record == nil {
		return drivers.SyncResult{}, false
	}
	conflict, update, err := checker.CheckConflicts(ctx, doc, t.conn)
	if absorbErr := s.absorb(t, update); absorbErr != nil {
		return drivers.Failed(doc.ID, absorbErr), true
	}
	if err != nil {
		return drivers.Failed(doc.ID, fmt.Errorf("conflict check failed: %w", err)), true
	}
	if !conflict.HasConflict {
		return drivers.SyncResult{}, false
	}
	return drivers.SyncResult{
		DocumentID:       doc.ID,
		ExternalID:       record.ExternalID,
		Error:            "remote copy changed since the last sync",
		ConflictDetected: true,
		ConflictDetails:  conflict.Details,
	}, true
}

// Pull lists every importable item of the link. Item failures stay in the results; an error
// means nothing could be listed.
func (s *Service) Pull(ctx context.Context, linkID string) ([]drivers.SyncResult, error) {
	t, err := s.loadLink(ctx, linkID)
	if err != nil {
		return nil, err
	}
	release, err := s.lock(ctx, t)
	if err != nil {
		return nil, err
	}
	defer release()

	results, update, pullErr := t.driver.Pull(ctx, drivers.PullOptions{Connection: t.conn})
	if err := s.absorb(t, update); err != nil {
		return nil, err
	}
	if pullErr != nil {
		log.Warning("Integration pull: link %s (%s) failed: %v", linkID, t.row.Provider, pullErr)
		if err := s.finish(ctx, t, OperationPull, failureState(pullErr), SyncEvent{Error: pullErr.Error()}); err != nil {
			return nil, errors.Join(pullErr, err)
		}
		return nil, pullErr
	}

	event := SyncEvent{}
	for _, r := range results {
		if r.Success {
			event.Succeeded++
		} else {
			event.Failed++
		}
	}
	log.Info("Integration pull: link %s (%s): %d items, %d failed", linkID, t.row.Provider, len(results), event.Failed)

	state := models.SyncState{Status: models.ConnectionStatusActive, SyncedAt: s.now()}
	return results, s.finish(ctx, t, OperationPull, state, event)
}

// Delete removes the remote copy of a document synced through the link.
func (s *Service) Delete(ctx context.Context, linkID, documentID, commitMessage string) (drivers.SyncResult, error) {
	t, err := s.loadLink(ctx, linkID)
	if err != nil {
		return drivers.SyncResult{}, err
	}
	deleter, ok := t.driver.(drivers.Deleter)
	if !ok {
		return drivers.SyncResult{}, fmt.Errorf("%w: %s cannot delete", drivers.ErrUnsupported, t.row.Provider)
	}
	release, err := s.lock(ctx, t)
	if err != nil {
		return drivers.SyncResult{}, err
	}
	defer release()

	record, err := s.store.GetSyncRecord(ctx, linkID, documentID)
	if err != nil {
		return drivers.SyncResult{}, err
	}
	if record == nil {
		return drivers.SyncResult{}, fmt.Errorf("%w: document %s was never synced through link %s", drivers.ErrNotFound, documentID, linkID)
	}

	result, update := deleter.Delete(ctx, drivers.DeleteOptions{
		DocumentID:    documentID,
		ExternalID:    record.ExternalID,
		Connection:    t.conn,
		CommitMessage: commitMessage,
	})
	if err := s.absorb(t, update); err != nil {
		return result, err
	}

	state := models.SyncState{}
	event := SyncEvent{Failed: 1, Error: result.Error}
	if result.Success {
		state.SyncedAt = s.now()
		state.DeletedDocuments = []string{documentID}
		event = SyncEvent{Succeeded: 1}
	}
	log.Info("Integration delete: link %s document %s: %s", linkID, documentID, resultSummary(result))
	return result, s.finish(ctx, t, OperationDelete, state, event)
}

// Resources lists the containers the connection can sync into. Results are cached per
// connection when a cache is configured.
func (s *Service) Resources(ctx context.Context, connectionID string) ([]drivers.ExternalResource, error) {
	t, err := s.loadConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	discoverable, ok := t.driver.(drivers.ResourceDiscoverable)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no resource discovery", drivers.ErrUnsupported, t.row.Provider)
	}
	if s.cache != nil {
		if resources, ok := s.cache.Get(ctx, connectionID); ok {
			return resources, nil
		}
	}

	release, err := s.lock(ctx, t)
	if err != nil {
		return nil, err
	}
	defer release()

	resources, update, fetchErr := discoverable.FetchResources(ctx, t.conn)
	if err := s.absorb(t, update); err != nil {
		return nil, err
	}
	if fetchErr != nil {
		if err := s.finish(ctx, t, OperationResources, failureState(fetchErr), SyncEvent{}); err != nil {
			return nil, errors.Join(fetchErr, err)
		}
		return nil, fetchErr
	}
	if err := s.finish(ctx, t, OperationResources, models.SyncState{Status: models.ConnectionStatusActive}, SyncEvent{Succeeded: len(resources)}); err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, connectionID, resources)
	}
	return resources, nil
}

// Describe returns the connection with its secrets masked.
func (s *Service) Describe(ctx context.Context, connectionID string) (*models.IntegrationConnection, map[string]any, error) {
	row, raw, err := s.store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, nil, err
	}
	if row.Status == models.ConnectionStatusDisabled {
		return row, map[string]any{}, nil
	}
	masked, err := GetMaskedConfig(s.registry, row.Provider, raw)
	if err != nil {
		return nil, nil, err
	}
	return row, masked, nil
}

// CredentialState reports the credential lifecycle state of a connection. Providers that
// do not track one report an empty string.
func (s *Service) CredentialState(ctx context.Context, connectionID string) (string, error) {
	t, err := s.loadConnection(ctx, connectionID)
	if err != nil {
		return "", err
	}
	inspector, ok := t.driver.(drivers.CredentialInspector)
	if !ok {
		return "", nil
	}
	return inspector.CredentialState(t.conn), nil
}

// Connections lists every stored connection, newest first, with its links.
func (s *Service) Connections(ctx context.Context) ([]models.IntegrationConnection, error) {
	conns, err := s.store.ListConnections(ctx)
	if err != nil {
		return nil, err
	}
	for i := range conns {
		links, err := s.store.ListLinks(ctx, conns[i].ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list links of connection %s: %w", conns[i].ID, err)
		}
		conns[i].Links = links
	}
	return conns, nil
}

// ConnectRequest creates a connection either from an OAuth callback (Query) or from a
// manually entered config (Config).
type ConnectRequest struct {
	Provider string
	Name     string
	Query    url.Values
	Config   json.RawMessage
	Metadata map[string]any
}

// Connect creates a connection. Manually entered configs are validated first; callback
// configs were just issued by the provider. Default links suggested by the provider are
// created with the connection.
func (s *Service) Connect(ctx context.Context, req ConnectRequest) (*models.IntegrationConnection, error) {
	driver, err := s.registry.MustGet(req.Provider)
	if err != nil {
		return nil, err
	}

	var cfg drivers.ConnectionConfig
	if req.Query != nil {
		oauth, ok := driver.(drivers.OAuthCapable)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no OAuth flow", drivers.ErrUnsupported, req.Provider)
		}
		if cfg, err = oauth.HandleOAuthCallback(ctx, req.Query, nil); err != nil {
			return nil, err
		}
	} else {
		if cfg, err = driver.DecodeConfig(req.Config); err != nil {
			return nil, err
		}
		if err := driver.ValidateConnection(ctx, &drivers.Connection{Provider: req.Provider, Config: cfg, Metadata: req.Metadata}); err != nil {
			return nil, err
		}
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s config: %w", req.Provider, err)
	}

	var links []models.IntegrationLink
	if hook, ok := driver.(drivers.ConnectHook); ok {
		for _, suggested := range hook.OnConnect().Links {
			linkConfig, err := json.Marshal(suggested.Config)
			if err != nil {
				return nil, fmt.Errorf("failed to encode default link %q: %w", suggested.Name, err)
			}
			links = append(links, models.IntegrationLink{Name: suggested.Name, Config: linkConfig})
		}
	}

	name := req.Name
	if name == "" {
		name = driver.Name()
	}
	row := &models.IntegrationConnection{Provider: req.Provider, Name: name, Metadata: req.Metadata}
	if err := s.store.CreateConnection(ctx, row, raw, links); err != nil {
		return nil, fmt.Errorf("failed to save %s connection: %w", req.Provider, err)
	}
	log.Info("Integration connected: %s (%s) with %d default links", row.ID, req.Provider, len(links))

	publish(s.events, SyncEvent{
		ConnectionID: row.ID,
		Provider:     req.Provider,
		Operation:    OperationConnect,
		Succeeded:    1,
		OccurredAt:   s.now(),
	})
	return row, nil
}

// AddLink adds a sync target to the connection after validating the merged config.
func (s *Service) AddLink(ctx context.Context, connectionID, name string, config map[string]any) (*models.IntegrationLink, error) {
	t, err := s.loadConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	overlay, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", drivers.ErrInvalidConfig, err)
	}
	merged, err := mergeConfig(t.raw, overlay)
	if err != nil {
		return nil, err
	}
	conn, err := s.registry.LoadConnection(t.row.ID, t.row.Provider, merged, t.row.Metadata)
	if err != nil {
		return nil, err
	}
	if err := t.driver.ValidateConnection(ctx, conn); err != nil {
		return nil, err
	}

	link := &models.IntegrationLink{ConnectionID: connectionID, Name: name, Config: overlay}
	if err := s.store.CreateLink(ctx, link); err != nil {
		return nil, fmt.Errorf("failed to save link: %w", err)
	}
	return link, nil
}

// Disconnect runs the provider's remote cleanup and disables the connection. Cleanup
// failures are reported in the outcome and never block the disconnect.
func (s *Service) Disconnect(ctx context.Context, connectionID string) (drivers.CleanupOutcome, error) {
	t, err := s.loadConnection(ctx, connectionID)
	if err != nil {
		return drivers.CleanupOutcome{}, err
	}
	release, err := s.lock(ctx, t)
	if err != nil {
		return drivers.CleanupOutcome{}, err
	}
	defer release()

	var outcome drivers.CleanupOutcome
	if hook, ok := t.driver.(drivers.DisconnectHook); ok {
		outcome = hook.OnDisconnect(ctx, t.conn)
	}
	if err := s.store.DisableConnection(ctx, connectionID, outcome.Error); err != nil {
		return outcome, err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, connectionID)
	}
	log.Info("Integration disconnected: %s (%s), cleanup attempted=%t succeeded=%t", connectionID, t.row.Provider, outcome.Attempted, outcome.Succeeded)

	event := SyncEvent{
		ConnectionID: connectionID,
		Provider:     t.row.Provider,
		Operation:    OperationDisconnect,
		Succeeded:    1,
		Error:        outcome.Error,
		OccurredAt:   s.now(),
	}
	publish(s.events, event)
	return outcome, nil
}

func revisionOf(result drivers.SyncResult) string {
	if sha, ok := result.Metadata["sha"].(string); ok {
		return sha
	}
	return ""
}

func resultSummary(result drivers.SyncResult) string {
	switch {
	case result.ConflictDetected:
		return "conflict: " + result.ConflictDetails
	case !result.Success:
		return "failed: " + result.Error
	}
	return result.Message
}

func errorOrOK(err error) any {
	if err != nil {
		return err
	}
	return "ok"
}
