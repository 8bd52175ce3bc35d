// Package router implements the cache router / adapter (component
// C6): it wraps a user-defined provider function with point- or
// range-cache semantics.
//
// The source language passes key/common/except fields as Python
// **kwargs and binds them once via inspect.signature. Go has no
// runtime parameter names, so the binding surface here is a single
// argument struct per provider function: Register classifies that
// struct's fields into key/common/except groups by name exactly once,
// via reflect, and memoizes the classification the same way the
// source memoizes its formal-parameter inventory. Per-call binding is
// then just a struct field read, not a re-classification.
package router

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/fincache/fincache/internal/cacheerr"
	"github.com/fincache/fincache/internal/codec"
	"github.com/fincache/fincache/internal/config"
	"github.com/fincache/fincache/internal/frame"
	"github.com/fincache/fincache/internal/ident"
	"github.com/fincache/fincache/internal/pointcache"
	"github.com/fincache/fincache/internal/rangecache"
	"github.com/fincache/fincache/internal/store"
	"github.com/fincache/fincache/internal/timeparse"
)

var (
	errorType = reflect.TypeOf((*error)(nil)).Elem()
	ctxType   = reflect.TypeOf((*context.Context)(nil)).Elem()
	timeType  = reflect.TypeOf(time.Time{})
	frameType = reflect.TypeOf((*frame.Frame)(nil))
	anyType   = reflect.TypeOf((*any)(nil)).Elem()
)

// binding is the classification computed once per registered name:
// which struct fields are key/common/except fields. The physical
// table is NOT part of the binding: it is derived per call from the
// common fields' values (table_basename plus a dataset hash), so a
// single registered function can address many physical tables over
// its lifetime — one per distinct common-field value tuple.
type binding struct {
	tableBasename string
	argsType      reflect.Type
	isRange       bool
	keyFields     []string
	commonFields  []string
	exceptFields  []string
	cfg           config.CacheConfig
	pool          *store.Pool
	threshold     int

	// generalizedBounds is set when the range provider declares its
	// start/end parameters as `any` rather than `time.Time`: per
	// spec.md §4.6 step 4, the router then extracts them from the call
	// via generalized timestamp parsing (ISO strings, epoch seconds or
	// microseconds, native time.Time) before delegating to the range
	// cache. A provider that already types its bounds as time.Time
	// skips this step.
	generalizedBounds bool

	mu          sync.Mutex
	pointCaches map[string]*pointcache.Cache
	rangeCaches map[string]*rangecache.Cache
}

// pointCacheFor returns the memoized point cache for physical table
// name, creating it on first use. Mirrors the source's per-dataset
// singleton store handle, but keyed by the resolved table rather than
// the registration name, since one registration can span many tables.
func (b *binding) pointCacheFor(tableName string) *pointcache.Cache {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pc, ok := b.pointCaches[tableName]; ok {
		return pc
	}
	pc := pointcache.New(b.pool, tableName)
	b.pointCaches[tableName] = pc
	return pc
}

func (b *binding) rangeCacheFor(tableName string, keyTypes map[string]codec.LogicalType) *rangecache.Cache {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rc, ok := b.rangeCaches[tableName]; ok {
		return rc
	}
	rc := rangecache.New(b.pool, tableName, b.keyFields, keyTypes, b.threshold)
	b.rangeCaches[tableName] = rc
	return rc
}

// Registry holds the bindings and store handles behind every
// Register call in a process. One Registry replaces the source's
// module-global DB_CONNECTIONS and per-function binding caches with
// explicit, dependency-injectable state.
type Registry struct {
	stores *store.Registry

	mu       sync.Mutex
	bindings map[string]*binding
}

// NewRegistry returns an empty router Registry backed by stores. A
// caller that does not need to share store handles across other
// components may pass store.NewRegistry() directly.
func NewRegistry(stores *store.Registry) *Registry {
	return &Registry{stores: stores, bindings: make(map[string]*binding)}
}

// Register wraps fn with point- or range-cache semantics per cfg, and
// returns a function value of fn's exact type. name stands in for the
// source's (module, qualified_name) binding key: callers should pass
// something stable per call site, such as a package-qualified constant.
//
// fn's signature must be one of:
//
//	func(ctx context.Context, args ArgsStruct) (T, error)                        — point
//	func(ctx context.Context, args ArgsStruct, start, end time.Time) (*frame.Frame, error) — range
//	func(ctx context.Context, args ArgsStruct, start, end any) (*frame.Frame, error)       — range, bounds parsed by timeparse.Parse
//
// ArgsStruct's exported field names are matched against
// cfg.KeyFields/CommonFields/ExceptFields; fields named in none of the
// three lists are auto-assigned to CommonFields if cfg.CommonFields is
// empty, else to ExceptFields if cfg.ExceptFields is empty, else left
// unclassified and ignored by the cache (still visible to fn, since
// the whole struct is passed through unchanged).
func (r *Registry) Register(name string, fn any, cfg config.CacheConfig) (any, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	existing, ok := r.bindings[name]
	r.mu.Unlock()
	if ok && !sameConfig(existing.cfg, cfg) {
		return nil, cacheerr.Configuration("dataset "+name+" already registered with a different configuration", nil)
	}

	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()
	b, err := classify(name, fnType, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.DBPath == "" {
		return fn, nil // identity wrapper: caching disabled for this dataset
	}

	pool, err := r.stores.Acquire(context.Background(), cfg.DBPath)
	if err != nil {
		return nil, err
	}
	b.pool = pool
	b.threshold = cfg.MissingThreshold
	if b.threshold <= 0 {
		b.threshold = rangecache.DefaultMissingThreshold
	}
	b.pointCaches = make(map[string]*pointcache.Cache)
	b.rangeCaches = make(map[string]*rangecache.Cache)

	r.mu.Lock()
	r.bindings[name] = b
	r.mu.Unlock()

	if b.isRange {
		return wrapRange(fnType, fnVal, b), nil
	}
	return wrapPoint(fnType, fnVal, b), nil
}

func sameConfig(a, b config.CacheConfig) bool {
	return a.TableBasename == b.TableBasename && a.DBPath == b.DBPath
}

func classify(name string, fnType reflect.Type, cfg config.CacheConfig) (*binding, error) {
	if fnType.Kind() != reflect.Func {
		return nil, cacheerr.Configuration("Register requires a function value", nil)
	}
	if fnType.NumIn() < 2 || fnType.In(0) != ctxType {
		return nil, cacheerr.Configuration("registered function must take (context.Context, ArgsStruct, ...)", nil)
	}
	argsType := fnType.In(1)
	if argsType.Kind() != reflect.Struct {
		return nil, cacheerr.Configuration("registered function's second parameter must be a struct", nil)
	}
	isRange := cfg.IsRange()
	generalizedBounds := false
	if isRange {
		if fnType.NumIn() != 4 {
			return nil, cacheerr.Configuration("range provider must take (ctx, args, start, end)", nil)
		}
		boundsType := fnType.In(2)
		switch boundsType {
		case timeType:
			if fnType.In(3) != timeType {
				return nil, cacheerr.Configuration("range provider's start and end parameters must have the same type", nil)
			}
		case anyType:
			if fnType.In(3) != anyType {
				return nil, cacheerr.Configuration("range provider's start and end parameters must have the same type", nil)
			}
			generalizedBounds = true
		default:
			return nil, cacheerr.Configuration("range provider's start/end parameters must be time.Time or any (for generalized timestamp parsing)", nil)
		}
		if fnType.NumOut() != 2 || fnType.Out(0) != frameType || !fnType.Out(1).Implements(errorType) {
			return nil, cacheerr.Configuration("range provider must return (*frame.Frame, error)", nil)
		}
	} else {
		if fnType.NumIn() != 2 {
			return nil, cacheerr.Configuration("point provider must take (ctx, args)", nil)
		}
		if fnType.NumOut() != 2 || !fnType.Out(1).Implements(errorType) {
			return nil, cacheerr.Configuration("point provider must return (T, error)", nil)
		}
	}

	key := make(map[string]bool, len(cfg.KeyFields))
	for _, n := range cfg.KeyFields {
		key[n] = true
	}
	common := make(map[string]bool, len(cfg.CommonFields))
	for _, n := range cfg.CommonFields {
		common[n] = true
	}
	except := make(map[string]bool, len(cfg.ExceptFields))
	for _, n := range cfg.ExceptFields {
		except[n] = true
	}
	autoCommon := len(cfg.CommonFields) == 0
	autoExcept := len(cfg.ExceptFields) == 0

	var keyFields, commonFields, exceptFields []string
	for i := 0; i < argsType.NumField(); i++ {
		fname := argsType.Field(i).Name
		switch {
		case key[fname]:
			keyFields = append(keyFields, fname)
		case common[fname]:
			commonFields = append(commonFields, fname)
		case except[fname]:
			exceptFields = append(exceptFields, fname)
		case autoCommon:
			commonFields = append(commonFields, fname)
		case autoExcept:
			exceptFields = append(exceptFields, fname)
		}
	}

	tableBasename := cfg.TableBasename
	if tableBasename == "" {
		tableBasename = name
	}

	return &binding{
		tableBasename:     tableBasename,
		argsType:          argsType,
		isRange:           isRange,
		keyFields:         keyFields,
		commonFields:      commonFields,
		exceptFields:      exceptFields,
		cfg:               cfg,
		generalizedBounds: generalizedBounds,
	}, nil
}

func goTypesOf(argsType reflect.Type, fieldNames []string) map[string]codec.LogicalType {
	out := make(map[string]codec.LogicalType, len(fieldNames))
	for _, name := range fieldNames {
		field, ok := argsType.FieldByName(name)
		if !ok {
			continue
		}
		out[name] = logicalTypeForGoType(field.Type)
	}
	return out
}

func logicalTypeForGoType(t reflect.Type) codec.LogicalType {
	if t == timeType {
		return codec.TypeTimestamp
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int32, reflect.Int64:
		return codec.TypeInt
	case reflect.Float32, reflect.Float64:
		return codec.TypeFloat
	case reflect.Bool:
		return codec.TypeBool
	case reflect.String:
		return codec.TypeString
	default:
		return codec.TypeString
	}
}

func fieldsFrom(argsVal reflect.Value, names []string) ident.Fields {
	values := make(map[string]any, len(names))
	for _, n := range names {
		values[n] = argsVal.FieldByName(n).Interface()
	}
	return ident.NewFields(names, values)
}

func wrapPoint(fnType reflect.Type, fnVal reflect.Value, b *binding) any {
	return reflect.MakeFunc(fnType, func(in []reflect.Value) []reflect.Value {
		ctx := in[0].Interface().(context.Context)
		argsVal := in[1]

		keyFields := fieldsFrom(argsVal, b.keyFields)
		commonFields := fieldsFrom(argsVal, b.commonFields)
		tableName := ident.TableNameForDataset(b.tableBasename, commonFields)
		pc := b.pointCacheFor(tableName)

		fetch := func(ctx context.Context, _ ident.Fields) (any, error) {
			out := fnVal.Call(in)
			var err error
			if e, ok := out[1].Interface().(error); ok {
				err = e
			}
			return out[0].Interface(), err
		}

		value, err := pc.Fetch(ctx, keyFields, fetch)
		outType := fnType.Out(0)
		result := reflect.New(outType).Elem()
		if value != nil && reflect.TypeOf(value).AssignableTo(outType) {
			result.Set(reflect.ValueOf(value))
		}
		return []reflect.Value{result, errValue(err)}
	}).Interface()
}

func wrapRange(fnType reflect.Type, fnVal reflect.Value, b *binding) any {
	return reflect.MakeFunc(fnType, func(in []reflect.Value) []reflect.Value {
		ctx := in[0].Interface().(context.Context)
		argsVal := in[1]

		start, end, err := boundsOf(in[2], in[3], b.generalizedBounds)
		if err != nil {
			return []reflect.Value{reflect.Zero(fnType.Out(0)), errValue(err)}
		}

		keyFields := fieldsFrom(argsVal, b.keyFields)
		commonFields := fieldsFrom(argsVal, b.commonFields)
		exceptFields := fieldsFrom(argsVal, b.exceptFields)
		tableName := ident.TableNameForDataset(b.tableBasename, commonFields)
		keyTypes := goTypesOf(b.argsType, b.keyFields)
		rc := b.rangeCacheFor(tableName, keyTypes)

		fetch := func(ctx context.Context, _, _, _ ident.Fields, gs, ge int64) (*frame.Frame, error) {
			callArgs := append([]reflect.Value(nil), in...)
			callArgs[2] = reflect.ValueOf(time.UnixMicro(gs).UTC())
			callArgs[3] = reflect.ValueOf(time.UnixMicro(ge).UTC())
			out := fnVal.Call(callArgs)
			var err error
			if e, ok := out[1].Interface().(error); ok {
				err = e
			}
			batch, _ := out[0].Interface().(*frame.Frame)
			return batch, err
		}

		result, err := rc.History(ctx, keyFields, commonFields, exceptFields,
			start.UTC().UnixMicro(), end.UTC().UnixMicro(), fetch, b.cfg.FieldMap)
		return []reflect.Value{reflect.ValueOf(result), errValue(err)}
	}).Interface()
}

// boundsOf extracts start/end as time.Time from a range provider's
// 3rd/4th call arguments. When generalized is false the provider typed
// them as time.Time and no conversion is needed; when true the
// provider typed them as `any` and spec.md §4.6 step 4's generalized
// timestamp parsing applies (ISO strings, common date/time patterns,
// seconds- or microseconds-epoch integers, native time.Time).
func boundsOf(startArg, endArg reflect.Value, generalized bool) (start, end time.Time, err error) {
	if !generalized {
		return startArg.Interface().(time.Time), endArg.Interface().(time.Time), nil
	}
	start, err = timeparse.Parse(startArg.Interface())
	if err != nil {
		return time.Time{}, time.Time{}, cacheerr.Configuration("parsing range start", err)
	}
	end, err = timeparse.Parse(endArg.Interface())
	if err != nil {
		return time.Time{}, time.Time{}, cacheerr.Configuration("parsing range end", err)
	}
	return start, end, nil
}

func errValue(err error) reflect.Value {
	if err == nil {
		return reflect.Zero(errorType)
	}
	return reflect.ValueOf(err)
}
