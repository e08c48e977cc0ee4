package profilefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"sync/atomic"
	"unicode/utf8"

	"github.com/google/uuid"
)

// FileSystemData is the bookkeeping record stored in the shared profile.
type FileSystemData struct {
	// ActiveProfile is the header path of the active profile
	ActiveProfile string `json:"activeProfile"`
	// NextProfileIndex numbers generated profile names
	NextProfileIndex int `json:"nextProfileIndex"`
}

// ProfilePathData is the ordered list of known profile header paths.
type ProfilePathData struct {
	Paths []string `json:"paths"`
}

// Add appends p unless it is already listed
func (d *ProfilePathData) Add(p string) bool {
	if slices.Contains(d.Paths, p) {
		return false
	}
	d.Paths = append(d.Paths, p)
	return true
}

// Remove deletes p from the list
func (d *ProfilePathData) Remove(p string) bool {
	i := slices.Index(d.Paths, p)
	if i < 0 {
		return false
	}
	d.Paths = slices.Delete(d.Paths, i, i+1)
	return true
}

// FileSystem owns the lifecycle of profile storage: the shared profile, the
// index of known profiles and the active profile.
//
// Lifecycle calls and profile operations must not run concurrently with each
// other. State may be polled from any goroutine.
type FileSystem struct {
	state  atomic.Int32
	events *Events
	log    *slog.Logger

	cfg      Config
	sess     *session
	shared   *Profile
	active   *Profile
	data     *FileSystemData
	paths    *ProfilePathData
	profiles map[string]*Profile
}

// New returns an uninitialized FileSystem. Subscribe to Events before
// calling Initialize to observe startup.
func New() *FileSystem {
	return &FileSystem{
		events: newEvents(slog.Default()),
		log:    slog.Default(),
	}
}

// State returns the current lifecycle state
func (fsys *FileSystem) State() State {
	return State(fsys.state.Load())
}

// IsInitialized reports whether the state is Initialized
func (fsys *FileSystem) IsInitialized() bool {
	return fsys.State() == StateInitialized
}

// Events returns the event subscribers
func (fsys *FileSystem) Events() *Events {
	return fsys.events
}

func (fsys *FileSystem) require(access string) error {
	if s := fsys.State(); s != StateInitialized {
		return &NotInitializedError{Access: access, State: s}
	}
	return nil
}

// Initialize loads the shared profile, the profile index and the active
// profile. It is a no-op unless the file system is uninitialized. On failure
// everything is released and the error is returned.
func (fsys *FileSystem) Initialize(ctx context.Context, cfg Config) error {
	if !fsys.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		return nil
	}
	if err := fsys.initialize(ctx, cfg); err != nil {
		fsys.log.Error("initialization failed", "err", err)
		fsys.release()
		return err
	}
	return nil
}

// InitializeAsync runs Initialize on its own goroutine, or inline when
// cfg.ForceSynchronous is set.
func (fsys *FileSystem) InitializeAsync(ctx context.Context, cfg Config) *Future[struct{}] {
	return goAsyncErr(cfg.ForceSynchronous, func() error { return fsys.Initialize(ctx, cfg) })
}

func (fsys *FileSystem) initialize(ctx context.Context, cfg Config) error {
	if cfg.Logger != nil {
		fsys.log = cfg.Logger.With("component", "filesystem")
		fsys.events.setLogger(fsys.log)
	}
	fsys.events.fire(&fsys.events.initStarted, "initialization_started")

	resolved, err := cfg.resolve()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	fsys.cfg = resolved
	fsys.log = resolved.Logger.With("component", "filesystem")
	fsys.events.setLogger(fsys.log)

	sess, err := newSession(resolved)
	if err != nil {
		return err
	}
	fsys.sess = sess

	if err := fsys.loadShared(ctx); err != nil {
		return fmt.Errorf("loading shared profile: %w", err)
	}
	if err := fsys.loadIndex(ctx); err != nil {
		return fmt.Errorf("loading profiles: %w", err)
	}
	if _, err := fsys.switchProfile(ctx, fsys.resolveActive()); err != nil {
		return fmt.Errorf("loading active profile: %w", err)
	}
	if err := fsys.convert(ctx); err != nil {
		return fmt.Errorf("converting legacy data: %w", err)
	}
	if err := errors.Join(fsys.active.Save(ctx), fsys.shared.Save(ctx)); err != nil {
		return err
	}

	fsys.state.Store(int32(StateInitialized))
	fsys.log.Info("file system initialized",
		"session", sess.id,
		"version", sess.version,
		"profile", fsys.active.DisplayName(),
		"profiles", len(fsys.profiles))
	fsys.events.fire(&fsys.events.initCompleted, "initialization_completed")
	return nil
}

func newSession(cfg Config) (*session, error) {
	validator, err := NewValidator(ValidatorOptions{
		Extension:           cfg.FileExtension,
		AllowedExtensions:   cfg.AllowedPatterns(),
		ReservedPrefix:      cfg.DefaultProfileName,
		VerifyContent:       cfg.VerifyContent,
		LogMissingExtension: cfg.LogMissingExtension,
		Logger:              cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	level, err := parseFailureLevel(cfg.ExceptionLogging)
	if err != nil {
		return nil, err
	}
	storage, err := NewFileStorage(StorageConfig{
		Backend:          cfg.Backend,
		Encryption:       cfg.Encryption,
		Key:              cfg.EncryptionKey,
		Root:             cfg.storageRoot(),
		Serializer:       cfg.Serializer,
		Logger:           cfg.Logger,
		FailureLevel:     level,
		ForceSynchronous: cfg.ForceSynchronous,
	})
	if err != nil {
		return nil, err
	}

	return &session{
		id:        uuid.New(),
		storage:   storage,
		validator: validator,
		types:     cfg.Types,
		version:   cfg.Version,
		logger:    cfg.Logger.With("component", "profile"),
		now:       cfg.Clock,
		forceSync: cfg.ForceSynchronous,
	}, nil
}

func (fsys *FileSystem) loadShared(ctx context.Context) error {
	headerPath := path.Join(SharedProfileFolder, SharedProfileHeader)
	shared, err := loadProfile(ctx, fsys.sess, headerPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			fsys.log.Warn("shared profile unreadable, starting fresh", "err", err)
		}
		shared = newProfile(fsys.sess, SharedProfileName, SharedProfileFolder, SharedProfileHeader)
	}
	shared.bookkeeping = true
	if err := shared.Load(ctx); err != nil {
		return err
	}
	fsys.shared = shared

	data, err := resolveRecord[*FileSystemData](shared, FileSystemDataKey)
	if err != nil {
		return err
	}
	if data == nil {
		data = &FileSystemData{}
		if err := storeRecord(shared, FileSystemDataKey, data); err != nil {
			return err
		}
	}
	paths, err := resolveRecord[*ProfilePathData](shared, ProfilePathsKey)
	if err != nil {
		return err
	}
	if paths == nil {
		paths = &ProfilePathData{}
		if err := storeRecord(shared, ProfilePathsKey, paths); err != nil {
			return err
		}
	}
	fsys.data = data
	fsys.paths = paths
	return nil
}

// loadIndex reads every indexed profile header. Unreadable profiles are
// dropped from the index.
func (fsys *FileSystem) loadIndex(ctx context.Context) error {
	var paths []string
	for _, p := range fsys.paths.Paths {
		if !slices.Contains(paths, p) {
			paths = append(paths, p)
		}
	}

	loaded, err := parallelMap(ctx, fsys.cfg.LoadWorkers, paths,
		func(ctx context.Context, headerPath string) (*Profile, error) {
			p, err := loadProfile(ctx, fsys.sess, headerPath)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				fsys.log.Warn("skipping unreadable profile", "path", headerPath, "err", err)
				return nil, nil
			}
			return p, nil
		})
	if err != nil {
		return err
	}

	fsys.profiles = make(map[string]*Profile, len(paths))
	kept := make([]string, 0, len(paths))
	for i, p := range loaded {
		if p == nil {
			continue
		}
		if p.HeaderPath() != paths[i] {
			fsys.log.Warn("skipping misplaced profile", "path", paths[i], "header", p.HeaderPath())
			continue
		}
		fsys.profiles[paths[i]] = p
		kept = append(kept, paths[i])
	}
	fsys.paths.Paths = kept
	return nil
}

// resolveActive returns the indexed profile recorded as active, or registers
// a new default profile.
func (fsys *FileSystem) resolveActive() *Profile {
	if p, ok := fsys.profiles[fsys.data.ActiveProfile]; ok {
		return p
	}
	p := newProfile(fsys.sess, fsys.nextDefaultName(), "", ProfileHeaderName)
	fsys.register(p)
	return p
}

// nextDefaultName advances the profile counter until the generated name is
// free. The caller persists the counter.
func (fsys *FileSystem) nextDefaultName() string {
	for {
		fsys.data.NextProfileIndex++
		name := fsys.cfg.DefaultProfileName + strconv.Itoa(fsys.data.NextProfileIndex)
		folder := newProfilePath(name)
		if _, taken := fsys.profiles[folder]; !taken {
			return name
		}
	}
}

func newProfilePath(displayName string) string {
	return path.Join(folderFor(displayName), ProfileHeaderName)
}

// registered reports whether p is the current handle for its header path.
// Handles of deleted profiles are not.
func (fsys *FileSystem) registered(p *Profile) bool {
	return fsys.profiles[p.HeaderPath()] == p
}

func (fsys *FileSystem) register(p *Profile) {
	fsys.profiles[p.HeaderPath()] = p
	fsys.paths.Add(p.HeaderPath())
}

func (fsys *FileSystem) convert(ctx context.Context) error {
	conv := fsys.cfg.Converter
	if conv == nil {
		return nil
	}

	sc := conv.Storage()
	if sc.Backend == nil {
		sc.Backend = fsys.cfg.Backend
	}
	if sc.Serializer == nil {
		sc.Serializer = fsys.cfg.Serializer
	}
	if sc.Logger == nil {
		sc.Logger = fsys.cfg.Logger
	}
	sc.ForceSynchronous = true
	legacy, err := NewFileStorage(sc)
	if err != nil {
		return err
	}
	return conv.Convert(ctx, legacy, fsys.active, fsys.shared)
}

// release drops all state and returns to Uninitialized.
func (fsys *FileSystem) release() {
	if fsys.active != nil && fsys.active.IsLoaded() {
		fsys.active.Unload()
	}
	if fsys.shared != nil {
		fsys.shared.Unload()
	}
	fsys.active = nil
	fsys.shared = nil
	fsys.data = nil
	fsys.paths = nil
	fsys.profiles = nil
	fsys.sess = nil
	fsys.cfg = Config{}
	fsys.state.Store(int32(StateUninitialized))
}

// Shutdown flushes the backend and unloads every profile. It is a no-op
// unless the file system is initialized. Unsaved changes are discarded.
func (fsys *FileSystem) Shutdown(ctx context.Context) error {
	if !fsys.state.CompareAndSwap(int32(StateInitialized), int32(StateShuttingDown)) {
		return nil
	}
	fsys.events.fire(&fsys.events.shutdownStarted, "shutdown_started")

	err := fsys.sess.storage.Flush(ctx)
	if err != nil {
		fsys.log.Error("flush failed during shutdown", "err", err)
	}
	fsys.release()
	fsys.log.Info("file system shut down")

	fsys.events.fire(&fsys.events.shutdownCompleted, "shutdown_completed")
	return err
}

// ShutdownAsync runs Shutdown on its own goroutine
func (fsys *FileSystem) ShutdownAsync(ctx context.Context) *Future[struct{}] {
	return goAsyncErr(fsys.cfg.ForceSynchronous, func() error { return fsys.Shutdown(ctx) })
}

// Profile returns the active profile
func (fsys *FileSystem) Profile() (*Profile, error) {
	if err := fsys.require("Profile"); err != nil {
		return nil, err
	}
	return fsys.active, nil
}

// SharedProfile returns the shared profile, which is always loaded
func (fsys *FileSystem) SharedProfile() (*Profile, error) {
	if err := fsys.require("SharedProfile"); err != nil {
		return nil, err
	}
	return fsys.shared, nil
}

// Profiles returns every known profile in index order
func (fsys *FileSystem) Profiles() ([]*Profile, error) {
	if err := fsys.require("Profiles"); err != nil {
		return nil, err
	}
	return fsys.indexed(), nil
}

// ProfileByName returns the profile with the given display name
func (fsys *FileSystem) ProfileByName(name string) (*Profile, bool, error) {
	if err := fsys.require("ProfileByName"); err != nil {
		return nil, false, err
	}
	p := fsys.findByName(name)
	return p, p != nil, nil
}

func (fsys *FileSystem) findByName(name string) *Profile {
	for _, headerPath := range fsys.paths.Paths {
		if p, ok := fsys.profiles[headerPath]; ok && p.DisplayName() == name {
			return p
		}
	}
	return nil
}

// Validator returns the key validator. It is available from the start of
// initialization.
func (fsys *FileSystem) Validator() (*Validator, error) {
	if s := fsys.State(); s == StateUninitialized || fsys.sess == nil {
		return nil, &NotInitializedError{Access: "Validator", State: s}
	}
	return fsys.sess.validator, nil
}

// Version returns the application version profiles are saved with
func (fsys *FileSystem) Version() (string, error) {
	if s := fsys.State(); s == StateUninitialized || fsys.sess == nil {
		return "", &NotInitializedError{Access: "Version", State: s}
	}
	return fsys.sess.version, nil
}

// Storage returns the file storage of the current session
func (fsys *FileSystem) Storage() (*FileStorage, error) {
	if err := fsys.require("Storage"); err != nil {
		return nil, err
	}
	return fsys.sess.storage, nil
}

// Save flushes the backend
func (fsys *FileSystem) Save(ctx context.Context) error {
	if err := fsys.require("Save"); err != nil {
		return err
	}
	return fsys.sess.storage.Flush(ctx)
}

// SwitchProfile makes p the active profile. It returns false if p is nil or
// already active.
func (fsys *FileSystem) SwitchProfile(ctx context.Context, p *Profile) (bool, error) {
	if err := fsys.require("SwitchProfile"); err != nil {
		return false, err
	}
	return fsys.switchProfile(ctx, p)
}

// SwitchProfileAsync runs SwitchProfile on its own goroutine
func (fsys *FileSystem) SwitchProfileAsync(ctx context.Context, p *Profile) *Future[bool] {
	return goAsync(fsys.cfg.ForceSynchronous, func() (bool, error) { return fsys.SwitchProfile(ctx, p) })
}

func (fsys *FileSystem) switchProfile(ctx context.Context, p *Profile) (bool, error) {
	if p == nil || p == fsys.active {
		return false, nil
	}

	previous := fsys.active
	if previous != nil && previous.IsLoaded() {
		previous.Unload()
	}
	if err := p.Load(ctx); err != nil {
		if previous != nil {
			if rerr := previous.Load(ctx); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
		return false, err
	}

	fsys.register(p)
	fsys.active = p
	fsys.data.ActiveProfile = p.HeaderPath()
	if fsys.State() == StateInitialized {
		fsys.log.Info("profile changed", "profile", p.DisplayName())
		fsys.events.fireProfile(&fsys.events.changed, "profile_changed", p)
	}

	if err := errors.Join(p.Save(ctx), fsys.shared.Save(ctx)); err != nil {
		return true, err
	}
	return true, nil
}

// CreateProfile creates and registers a new profile. Rejected requests are
// reported through the result status and leave the index unchanged; the
// returned error is reserved for storage failures.
func (fsys *FileSystem) CreateProfile(ctx context.Context, args CreateArgs) (CreationResult, error) {
	if err := fsys.require("CreateProfile"); err != nil {
		return CreationResult{}, err
	}

	if limit := fsys.cfg.ProfileLimit; limit > 0 && len(fsys.profiles) >= limit {
		return CreationResult{Status: ProfileLimitReached}, nil
	}
	if args.Name != "" && fsys.sess.validator.IsReservedName(args.Name) {
		return CreationResult{Status: SystemReservedName}, nil
	}

	name := args.Name
	if name == "" {
		name = fsys.nextDefaultName()
		if err := fsys.shared.saveRecord(ctx, FileSystemDataKey); err != nil {
			return CreationResult{}, err
		}
	}
	if utf8.RuneCountInString(name) > MaxProfileNameLength {
		return CreationResult{Status: NameTooLong}, nil
	}
	if !fsys.sess.validator.IsValidProfileName(name) {
		return CreationResult{Status: NameInvalid}, nil
	}

	p := newProfile(fsys.sess, name, "", ProfileHeaderName)
	if _, taken := fsys.profiles[p.HeaderPath()]; taken {
		return CreationResult{Status: NameNotAvailable}, nil
	}

	fsys.register(p)
	var errs []error
	if args.Activate {
		if _, err := fsys.switchProfile(ctx, p); err != nil {
			errs = append(errs, err)
		}
	} else {
		errs = append(errs, p.Save(ctx), fsys.shared.Save(ctx))
	}

	fsys.log.Info("profile created", "profile", name, "activate", args.Activate)
	fsys.events.fireCreated(p, args)
	return CreationResult{Profile: p, Status: CreationSuccess}, errors.Join(errs...)
}

// CreateProfileAsync runs CreateProfile on its own goroutine
func (fsys *FileSystem) CreateProfileAsync(ctx context.Context, args CreateArgs) *Future[CreationResult] {
	return goAsync(fsys.cfg.ForceSynchronous, func() (CreationResult, error) { return fsys.CreateProfile(ctx, args) })
}

// DeleteProfile removes p and all of its files. Deleting nil, the active
// profile, the shared profile or an already deleted profile is a no-op.
func (fsys *FileSystem) DeleteProfile(ctx context.Context, p *Profile) error {
	if err := fsys.require("DeleteProfile"); err != nil {
		return err
	}
	if p == nil || p == fsys.shared || p.HeaderPath() == fsys.active.HeaderPath() || !fsys.registered(p) {
		return nil
	}

	fsys.events.fireProfile(&fsys.events.deleted, "profile_deleted", p)

	delete(fsys.profiles, p.HeaderPath())
	fsys.paths.Remove(p.HeaderPath())
	if p.IsLoaded() {
		p.Unload()
	}
	fsys.log.Info("profile deleted", "profile", p.DisplayName())
	return errors.Join(p.deleteFiles(ctx), fsys.shared.Save(ctx))
}

// DeleteProfileByName deletes the profile with the given display name, if any
func (fsys *FileSystem) DeleteProfileByName(ctx context.Context, name string) error {
	if err := fsys.require("DeleteProfileByName"); err != nil {
		return err
	}
	return fsys.DeleteProfile(ctx, fsys.findByName(name))
}

// DeleteProfileAsync runs DeleteProfile on its own goroutine
func (fsys *FileSystem) DeleteProfileAsync(ctx context.Context, p *Profile) *Future[struct{}] {
	return goAsyncErr(fsys.cfg.ForceSynchronous, func() error { return fsys.DeleteProfile(ctx, p) })
}

// ResetProfile deletes every stored key of p. The profile stays registered
// and, if it was loaded, is loaded again empty. Resetting the shared profile
// or a deleted profile is a no-op.
func (fsys *FileSystem) ResetProfile(ctx context.Context, p *Profile) error {
	if err := fsys.require("ResetProfile"); err != nil {
		return err
	}
	if p == nil || p == fsys.shared || !fsys.registered(p) {
		return nil
	}

	wasLoaded := p.IsLoaded()
	if wasLoaded {
		p.Unload()
	}
	errs := []error{p.clear(ctx), p.Save(ctx)}
	if wasLoaded {
		errs = append(errs, p.Load(ctx))
	}

	fsys.log.Info("profile reset", "profile", p.DisplayName())
	fsys.events.fireProfile(&fsys.events.reset, "profile_reset", p)
	return errors.Join(errs...)
}

// ResetProfileByName resets the profile with the given display name, if any
func (fsys *FileSystem) ResetProfileByName(ctx context.Context, name string) error {
	if err := fsys.require("ResetProfileByName"); err != nil {
		return err
	}
	return fsys.ResetProfile(ctx, fsys.findByName(name))
}

// ResetProfileAsync runs ResetProfile on its own goroutine
func (fsys *FileSystem) ResetProfileAsync(ctx context.Context, p *Profile) *Future[struct{}] {
	return goAsyncErr(fsys.cfg.ForceSynchronous, func() error { return fsys.ResetProfile(ctx, p) })
}

// Reencrypt rewrites every stored file with the primary encryption provider.
// Use it after putting a new provider in front of the old one.
func (fsys *FileSystem) Reencrypt(ctx context.Context, opts RotationOptions) error {
	if err := fsys.require("Reencrypt"); err != nil {
		return err
	}

	var paths []string
	for _, p := range append([]*Profile{fsys.shared}, fsys.indexed()...) {
		paths = append(paths, p.contentPaths()...)
		paths = append(paths, p.HeaderPath())
	}
	return fsys.sess.storage.ReencryptAll(ctx, paths, opts)
}

func (fsys *FileSystem) indexed() []*Profile {
	out := make([]*Profile, 0, len(fsys.paths.Paths))
	for _, p := range fsys.paths.Paths {
		if prof, ok := fsys.profiles[p]; ok {
			out = append(out, prof)
		}
	}
	return out
}
