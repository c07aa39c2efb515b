package tools

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry is the in-memory store of tool definitions, keyed by id and
// indexed by name, logical name, category, capability and tag.
// Lookups share a read lock; registration and removal take the write lock.
// Every accessor returns clones so callers cannot mutate registry state.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool

	// nameIndex maps tool names to IDs
	nameIndex map[string]string

	// logicalIndex maps logical names to the IDs of their instances
	logicalIndex map[string]map[string]bool

	// categoryIndex maps categories to tool IDs
	categoryIndex map[Category]map[string]bool

	// capabilityIndex maps capabilities to tool IDs
	capabilityIndex map[Capability]map[string]bool

	// tagIndex maps metadata tags to tool IDs
	tagIndex map[string]map[string]bool

	validation *ValidationService
	validators []RegistryValidator
	logger     logrus.FieldLogger
}

// RegistryValidator is a function that validates tools during registration.
type RegistryValidator func(tool *Tool) error

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithValidationService replaces the default definition validator.
func WithValidationService(svc *ValidationService) RegistryOption {
	return func(r *Registry) {
		r.validation = svc
	}
}

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(logger logrus.FieldLogger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates a new tool registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:           make(map[string]*Tool),
		nameIndex:       make(map[string]string),
		logicalIndex:    make(map[string]map[string]bool),
		categoryIndex:   make(map[Category]map[string]bool),
		capabilityIndex: make(map[Capability]map[string]bool),
		tagIndex:        make(map[string]map[string]bool),
		validation:      NewValidationService(),
		logger:          discardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool to the registry. It fails with a validation error
// for malformed definitions and a DuplicateToolError when the id or the
// name is already taken.
func (r *Registry) Register(tool *Tool) error {
	result := r.validation.ValidateDefinition(tool)
	if !result.Valid {
		toolID := ""
		if tool != nil {
			toolID = tool.ID
		}
		return NewToolValidationError(toolID, result)
	}
	for _, w := range result.Warnings {
		r.logger.WithField("tool_id", tool.ID).Debugf("registration warning: %s", w)
	}

	for _, validator := range r.validators {
		if err := validator(tool); err != nil {
			return NewToolError(ErrorTypeValidation, "CUSTOM_VALIDATION", "custom validation failed").
				WithToolID(tool.ID).
				WithCause(err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.ID]; exists {
		return NewDuplicateToolError(tool.ID, "ID", tool.ID)
	}
	if existingID, exists := r.nameIndex[tool.Name]; exists {
		return NewDuplicateToolError(tool.ID, "name", tool.Name).
			WithDetail("existing_id", existingID)
	}

	stored := tool.Clone()
	r.tools[stored.ID] = stored
	r.nameIndex[stored.Name] = stored.ID
	addIndex(r.logicalIndex, stored.Logical(), stored.ID)
	if stored.Category != "" {
		addIndex(r.categoryIndex, stored.Category, stored.ID)
	}
	for _, c := range stored.Capabilities {
		addIndex(r.capabilityIndex, c, stored.ID)
	}
	if stored.Metadata != nil {
		for _, tag := range stored.Metadata.Tags {
			addIndex(r.tagIndex, tag, stored.ID)
		}
	}

	r.logger.WithFields(logrus.Fields{
		"tool_id":      stored.ID,
		"name":         stored.Name,
		"capabilities": stored.Capabilities,
	}).Info("tool registered")
	return nil
}

// Unregister removes a tool from the registry. Removing an unknown id is
// not an error; the return value reports whether anything was removed.
func (r *Registry) Unregister(toolID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	tool, exists := r.tools[toolID]
	if !exists {
		return false
	}

	delete(r.tools, toolID)
	delete(r.nameIndex, tool.Name)
	removeIndex(r.logicalIndex, tool.Logical(), toolID)
	removeIndex(r.categoryIndex, tool.Category, toolID)
	for _, c := range tool.Capabilities {
		removeIndex(r.capabilityIndex, c, toolID)
	}
	if tool.Metadata != nil {
		for _, tag := range tool.Metadata.Tags {
			removeIndex(r.tagIndex, tag, toolID)
		}
	}

	r.logger.WithField("tool_id", toolID).Info("tool unregistered")
	return true
}

// Get retrieves a tool by its ID.
func (r *Registry) Get(toolID string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[toolID]
	if !exists {
		return nil, NewToolNotFoundError(toolID)
	}
	return tool.Clone(), nil
}

// GetByName retrieves a tool by its name.
func (r *Registry) GetByName(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	toolID, exists := r.nameIndex[name]
	if !exists {
		return nil, NewToolNotFoundError(name)
	}
	return r.tools[toolID].Clone(), nil
}

// Find resolves an id or a name. It returns nil when nothing matches.
func (r *Registry) Find(idOrName string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if tool, ok := r.tools[idOrName]; ok {
		return tool.Clone()
	}
	if id, ok := r.nameIndex[idOrName]; ok {
		return r.tools[id].Clone()
	}
	return nil
}

// Instances returns the enabled interchangeable instances registered
// under a logical name, ordered by id.
func (r *Registry) Instances(logicalName string) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.logicalIndex[logicalName], false)
}

// ListByCategory returns a snapshot of the enabled tools in a category.
func (r *Registry) ListByCategory(category Category) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.categoryIndex[category], false)
}

// ListByCapability returns a snapshot of the enabled tools declaring capability c.
func (r *Registry) ListByCapability(c Capability) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.capabilityIndex[c], false)
}

// List returns all tools that match the given filter.
// If filter is nil, all enabled tools are returned.
func (r *Registry) List(filter *ToolFilter) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Tool
	for _, tool := range r.tools {
		if r.matchesFilter(tool, filter) {
			results = append(results, tool.Clone())
		}
	}
	sortTools(results)
	return results
}

// ListAll returns all registered tools, including disabled ones.
func (r *Registry) ListAll() []*Tool {
	return r.List(&ToolFilter{IncludeDisabled: true})
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Clear removes all tools from the registry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tools = make(map[string]*Tool)
	r.nameIndex = make(map[string]string)
	r.logicalIndex = make(map[string]map[string]bool)
	r.categoryIndex = make(map[Category]map[string]bool)
	r.capabilityIndex = make(map[Capability]map[string]bool)
	r.tagIndex = make(map[string]map[string]bool)
}

// AddValidator adds a custom validation function that will be run
// during tool registration.
func (r *Registry) AddValidator(validator RegistryValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators = append(r.validators, validator)
}

// collect clones the tools named by ids. Must be called with r.mu held.
func (r *Registry) collect(ids map[string]bool, includeDisabled bool) []*Tool {
	results := make([]*Tool, 0, len(ids))
	for id := range ids {
		tool := r.tools[id]
		if tool == nil || (!includeDisabled && tool.Disabled) {
			continue
		}
		results = append(results, tool.Clone())
	}
	sortTools(results)
	return results
}

// matchesFilter checks if a tool matches the given filter criteria.
func (r *Registry) matchesFilter(tool *Tool, filter *ToolFilter) bool {
	if filter == nil {
		return tool.Enabled()
	}
	if !filter.IncludeDisabled && tool.Disabled {
		return false
	}

	if filter.Name != "" {
		if strings.Contains(filter.Name, "*") {
			pattern := strings.ReplaceAll(filter.Name, "*", "")
			if !strings.Contains(tool.Name, pattern) {
				return false
			}
		} else if tool.Name != filter.Name {
			return false
		}
	}

	if filter.Category != "" && tool.Category != filter.Category {
		return false
	}

	// union semantics: any requested capability is enough
	if len(filter.Capabilities) > 0 {
		matched := false
		for _, c := range filter.Capabilities {
			if r.capabilityIndex[c][tool.ID] {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, tag := range filter.Tags {
		if !r.tagIndex[tag][tool.ID] {
			return false
		}
	}

	if filter.Version != "" {
		ok, err := matchesVersionConstraint(tool.Version(), filter.Version)
		if err != nil || !ok {
			return false
		}
	}

	if len(filter.Keywords) > 0 {
		searchText := strings.ToLower(tool.Name + " " + tool.DisplayName + " " + tool.Description)
		for _, keyword := range filter.Keywords {
			if !strings.Contains(searchText, strings.ToLower(keyword)) {
				return false
			}
		}
	}

	return true
}

func addIndex[K comparable](index map[K]map[string]bool, key K, id string) {
	if index[key] == nil {
		index[key] = make(map[string]bool)
	}
	index[key][id] = true
}

func removeIndex[K comparable](index map[K]map[string]bool, key K, id string) {
	if set := index[key]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(index, key)
		}
	}
}

func sortTools(list []*Tool) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// String summarizes the registry for debugging.
func (r *Registry) String() string {
	return fmt.Sprintf("Registry(%d tools)", r.Count())
}
