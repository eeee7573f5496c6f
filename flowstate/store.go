package flowstate

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// GlobalWorkflow is the reserved namespace used when no workflow is loaded.
// Keeping it distinct from every real workflow id means idle-state writes
// can never alias a previously loaded workflow's keys.
const GlobalWorkflow = "__global__"

// FieldAgentState is the reserved field key under which an entity's typed
// run state is stored.
const FieldAgentState = "agent_state"

// Listener observes generic state changes
type Listener func()

// WorkflowChangeListener observes active-workflow switches
type WorkflowChangeListener func(oldID, newID string)

// Store is the flow-scoped state store: a process-wide map of
// (workflow, entity, field) → value. All entity-keyed operations are
// transparently namespaced by the currently active workflow.
//
// Mutations are atomic read-modify-writes under one mutex; subscribers are
// notified synchronously after the mutation completes, so no observer ever
// sees a partial update.
type Store struct {
	mu     sync.Mutex
	active string // "" until a workflow is loaded
	values map[string]map[string]any

	subs    map[int]Listener
	wfSubs  map[int]WorkflowChangeListener
	nextSub int

	logger *slog.Logger
}

// NewStore creates an empty store
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		values: make(map[string]map[string]any),
		subs:   make(map[int]Listener),
		wfSubs: make(map[int]WorkflowChangeListener),
		logger: logger,
	}
}

func (s *Store) namespace() string {
	if s.active == "" {
		return GlobalWorkflow
	}
	return s.active
}

func compositeKey(workflowID, entityID string) string {
	return workflowID + ":" + entityID
}

// ActiveWorkflow returns the current active workflow id ("" if none)
func (s *Store) ActiveWorkflow() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetActiveWorkflow switches the active namespace. If the pointer actually
// changed, workflow-change subscribers are notified synchronously before
// this call returns, so dependent views re-read under the new namespace
// before anything renders from stale keys.
func (s *Store) SetActiveWorkflow(workflowID string) {
	s.mu.Lock()
	if s.active == workflowID {
		s.mu.Unlock()
		return
	}
	old := s.active
	s.active = workflowID
	wfListeners := s.workflowListenersLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.logger.Debug("Active workflow switched", "from", old, "to", workflowID)
	for _, l := range wfListeners {
		l(old, workflowID)
	}
	for _, l := range listeners {
		l()
	}
}

// Get returns the value for (active workflow, entityID, key)
func (s *Store) Get(entityID, key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.values[compositeKey(s.namespace(), entityID)]
	if !ok {
		return nil, false
	}
	v, ok := fields[key]
	return v, ok
}

// Set stores a value under (active workflow, entityID, key)
func (s *Store) Set(entityID, key string, value any) {
	s.mu.Lock()
	ck := compositeKey(s.namespace(), entityID)
	fields, ok := s.values[ck]
	if !ok {
		fields = make(map[string]any)
		s.values[ck] = fields
	}
	fields[key] = value
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.notify(listeners)
}

// GetAll returns a copy of all fields for the entity in the active namespace
func (s *Store) GetAll(entityID string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields := s.values[compositeKey(s.namespace(), entityID)]
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// SetAll replaces all fields for the entity in the active namespace
func (s *Store) SetAll(entityID string, state map[string]any) {
	s.mu.Lock()
	fields := make(map[string]any, len(state))
	for k, v := range state {
		fields[k] = v
	}
	s.values[compositeKey(s.namespace(), entityID)] = fields
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.notify(listeners)
}

// ClearEntity removes all state for the entity in the active namespace
func (s *Store) ClearEntity(entityID string) {
	s.mu.Lock()
	delete(s.values, compositeKey(s.namespace(), entityID))
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.notify(listeners)
}

// ClearWorkflow removes all state belonging to the given workflow id
func (s *Store) ClearWorkflow(workflowID string) {
	if workflowID == "" {
		workflowID = GlobalWorkflow
	}
	prefix := workflowID + ":"

	s.mu.Lock()
	for ck := range s.values {
		if strings.HasPrefix(ck, prefix) {
			delete(s.values, ck)
		}
	}
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.notify(listeners)
}

// ClearAll removes all state across every workflow
func (s *Store) ClearAll() {
	s.mu.Lock()
	s.values = make(map[string]map[string]any)
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.notify(listeners)
}

// Subscribe registers a generic state-change listener. The returned
// function unsubscribes; callers must release it on teardown.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = l
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// SubscribeToWorkflowChange registers an active-workflow-switch listener.
func (s *Store) SubscribeToWorkflowChange(l WorkflowChangeListener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.wfSubs[id] = l
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.wfSubs, id)
		s.mu.Unlock()
	}
}

// Export returns the active workflow's state with the namespace prefix
// stripped, so exported state is portable across save/restore.
func (s *Store) Export() map[string]map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := s.namespace() + ":"
	out := make(map[string]map[string]any)
	for ck, fields := range s.values {
		if !strings.HasPrefix(ck, prefix) {
			continue
		}
		entityID := strings.TrimPrefix(ck, prefix)
		copied := make(map[string]any, len(fields))
		for k, v := range fields {
			copied[k] = v
		}
		out[entityID] = copied
	}
	return out
}

// Hydrate writes namespace-agnostic exported state back under the active
// namespace. Agent states round-trip back into their typed form.
func (s *Store) Hydrate(state map[string]map[string]any) {
	s.mu.Lock()
	ns := s.namespace()
	for entityID, fields := range state {
		copied := make(map[string]any, len(fields))
		for k, v := range fields {
			if k == FieldAgentState {
				if st, ok := DecodeEntityState(v); ok {
					copied[k] = st
					continue
				}
			}
			copied[k] = v
		}
		s.values[compositeKey(ns, entityID)] = copied
	}
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.notify(listeners)
}

// Entity returns the typed run state for the entity in the active
// namespace, or a fresh idle state if none is stored.
func (s *Store) Entity(entityID string) EntityState {
	return s.EntityIn(s.ActiveWorkflow(), entityID)
}

// PutEntity stores the typed run state for the entity in the active namespace
func (s *Store) PutEntity(entityID string, st EntityState) {
	s.PutEntityIn(s.ActiveWorkflow(), entityID, st)
}

// EntityIn is Entity for an explicit workflow namespace
func (s *Store) EntityIn(workflowID, entityID string) EntityState {
	if workflowID == "" {
		workflowID = GlobalWorkflow
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.values[compositeKey(workflowID, entityID)]
	if !ok {
		return NewEntityState()
	}
	if st, ok := DecodeEntityState(fields[FieldAgentState]); ok {
		return st
	}
	return NewEntityState()
}

// PutEntityIn is PutEntity for an explicit workflow namespace
func (s *Store) PutEntityIn(workflowID, entityID string, st EntityState) {
	if workflowID == "" {
		workflowID = GlobalWorkflow
	}

	s.mu.Lock()
	ck := compositeKey(workflowID, entityID)
	fields, ok := s.values[ck]
	if !ok {
		fields = make(map[string]any)
		s.values[ck] = fields
	}
	fields[FieldAgentState] = st
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.notify(listeners)
}

// EntityIDsIn returns the sorted entity ids that have any state stored
// under the given workflow namespace.
func (s *Store) EntityIDsIn(workflowID string) []string {
	if workflowID == "" {
		workflowID = GlobalWorkflow
	}
	prefix := workflowID + ":"

	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for ck := range s.values {
		if strings.HasPrefix(ck, prefix) {
			ids = append(ids, strings.TrimPrefix(ck, prefix))
		}
	}
	sort.Strings(ids)
	return ids
}

// ResetEntitiesIn replaces every stored entity run state in the workflow
// namespace with a fresh idle state. Other fields are untouched.
func (s *Store) ResetEntitiesIn(workflowID string) {
	if workflowID == "" {
		workflowID = GlobalWorkflow
	}
	prefix := workflowID + ":"

	s.mu.Lock()
	for ck, fields := range s.values {
		if !strings.HasPrefix(ck, prefix) {
			continue
		}
		if _, ok := fields[FieldAgentState]; ok {
			fields[FieldAgentState] = NewEntityState()
		}
	}
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.notify(listeners)
}

func (s *Store) listenersLocked() []Listener {
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.subs[id])
	}
	return out
}

func (s *Store) workflowListenersLocked() []WorkflowChangeListener {
	ids := make([]int, 0, len(s.wfSubs))
	for id := range s.wfSubs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]WorkflowChangeListener, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.wfSubs[id])
	}
	return out
}

func (s *Store) notify(listeners []Listener) {
	for _, l := range listeners {
		l()
	}
}
