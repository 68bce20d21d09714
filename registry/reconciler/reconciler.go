// Package reconciler compares the set of currently loaded workflow
// packages against the persisted registry and loads or unloads packages to
// match it, at process start and on a configurable interval, optionally
// woken early by filesystem events on a watched package-storage directory.
package reconciler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"golang.org/x/mod/semver"

	"github.com/colliery-io/cloacina-go/registry/loader"
	"github.com/colliery-io/cloacina-go/registry/manifest"
	"github.com/colliery-io/cloacina-go/security/audit"
	"github.com/colliery-io/cloacina-go/security/signing"
	"github.com/colliery-io/cloacina-go/store"
	"github.com/colliery-io/cloacina-go/workflow"
)

// HostTargets lists the GOOS-GOARCH platform strings this host supports;
// a package whose manifest targets none of these is refused.
var HostTargets = []string{"linux-amd64", "linux-arm64", "darwin-amd64", "darwin-arm64"}

// HostEngineVersion gates scripted/native packages compiled against a
// newer engine than this process understands, using semver compatibility
// rather than exact-match so patch releases of the engine don't force a
// repackage.
var HostEngineVersion = "v1.0.0"

// Reconciler loads/unloads workflow packages so the in-memory
// ConstructorRegistry and workflow.Set match the persisted
// WorkflowPackage/WorkflowRegistry rows.
type Reconciler struct {
	store            *store.Store
	registry         *workflow.ConstructorRegistry
	workflows        *workflow.Set
	stagingDir       string
	watchDir         string
	orgID            string
	tenant           string
	requireSignature bool

	loaded map[string]string // package name -> version currently loaded
}

// New returns a Reconciler. watchDir may be empty to disable the fsnotify
// watch (e.g. when registry.storage.type is "database"). requireSignature,
// when true, refuses to load a package that carries no detached signature
// at all rather than treating it as merely unverified.
func New(st *store.Store, registry *workflow.ConstructorRegistry, workflows *workflow.Set, stagingDir, watchDir, orgID, tenant string, requireSignature bool) *Reconciler {
	return &Reconciler{
		store:            st,
		registry:         registry,
		workflows:        workflows,
		stagingDir:       stagingDir,
		watchDir:         watchDir,
		orgID:            orgID,
		tenant:           tenant,
		requireSignature: requireSignature,
		loaded:           make(map[string]string),
	}
}

// Run performs an initial Reconcile, then reconciles again on every tick of
// interval and on every fsnotify event under watchDir, until ctx is
// cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	if err := r.Reconcile(ctx); err != nil {
		slog.Error("initial package reconciliation failed", "error", err)
	}

	var watchCh <-chan fsnotify.Event
	if r.watchDir != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return errors.Wrap(err, "failed to create filesystem watcher")
		}
		defer watcher.Close()
		if err := watcher.Add(r.watchDir); err != nil {
			return errors.Wrapf(err, "failed to watch %s", r.watchDir)
		}
		watchCh = watcher.Events
	}

	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Reconcile(ctx); err != nil {
				slog.Error("periodic package reconciliation failed", "error", err)
			}
		case ev, ok := <-watchCh:
			if !ok {
				watchCh = nil
				continue
			}
			slog.Debug("package storage directory event", "event", ev)
			if err := r.Reconcile(ctx); err != nil {
				slog.Error("watch-triggered package reconciliation failed", "error", err)
			}
		}
	}
}

// Reconcile lists every persisted WorkflowPackage, loads any not yet
// reflected in r.loaded (or whose version changed), and unloads any
// r.loaded package no longer present in the persisted registry.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	persisted, err := r.store.ListWorkflowPackages(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list persisted workflow packages")
	}

	want := make(map[string]string, len(persisted))
	for _, pkg := range persisted {
		want[pkg.PackageName] = pkg.Version
	}

	for name, version := range want {
		if loadedVersion, ok := r.loaded[name]; ok && loadedVersion == version {
			continue
		}
		if err := r.load(ctx, name, version); err != nil {
			slog.Error("failed to load workflow package", "package", name, "version", version, "error", err)
			continue
		}
		r.loaded[name] = version
	}

	for name := range r.loaded {
		if _, ok := want[name]; !ok {
			r.unload(name)
			delete(r.loaded, name)
		}
	}

	return nil
}

func (r *Reconciler) load(ctx context.Context, name, version string) error {
	pkg, payload, err := r.store.GetWorkflowPackage(ctx, name, version)
	if err != nil {
		return errors.Wrap(err, "failed to load package payload")
	}

	m, err := loader.PeekManifest(payload.DataBytes)
	if err != nil {
		return errors.Wrap(err, "failed to peek manifest")
	}
	if err := m.Validate(); err != nil {
		return errors.Wrap(err, "manifest failed validation")
	}
	if err := r.checkTargets(m); err != nil {
		return err
	}
	if !compatibleEngineVersion(m.Package.MinEngineVersion) {
		return errors.Errorf("package %q requires engine %s or newer, this host runs %s", name, m.Package.MinEngineVersion, HostEngineVersion)
	}

	if err := r.verifySignature(ctx, name, pkg, payload.DataBytes); err != nil {
		return err
	}

	extracted, err := loader.ExtractPackage(payload.DataBytes, r.stagingDir)
	if err != nil {
		return errors.Wrap(err, "failed to extract package")
	}

	switch m.Language {
	case manifest.LanguageNative:
		err = loader.LoadNative(extracted, r.tenant, name, r.registry)
	case manifest.LanguageScripted:
		err = loader.LoadScripted(extracted, r.tenant, name, r.registry)
	default:
		err = errors.Errorf("unknown package language %q", m.Language)
	}
	if err != nil {
		return err
	}

	wf, err := r.buildWorkflow(name, m)
	if err != nil {
		return err
	}
	r.workflows.Put(wf)

	slog.Info("loaded workflow package", "package", name, "version", version, "tasks", len(m.Tasks))
	return nil
}

// buildWorkflow resolves each manifest task's constructor (just registered
// by LoadNative/LoadScripted) and assembles the DAG via workflow.Builder,
// so the reconciler — not the loader — owns cycle detection and
// versioning.
func (r *Reconciler) buildWorkflow(name string, m *manifest.Manifest) (*workflow.Workflow, error) {
	b := workflow.NewBuilder(name, r.tenant, m.Package.Name).WithDescription(m.Package.Description)
	for _, task := range m.Tasks {
		ns := workflow.Namespace{Tenant: r.tenant, Package: m.Package.Name, Workflow: name, LocalID: task.ID}
		ctor, ok := r.registry.Resolve(ns)
		if !ok {
			return nil, errors.Errorf("constructor for task %q was not registered by the loader", task.ID)
		}
		retry := workflow.DefaultRetryPolicy()
		if task.Retries > 0 {
			retry.MaxAttempts = task.Retries + 1
		}
		fingerprint := m.Package.Fingerprint
		if err := b.AddTask(task.ID, task.Dependencies, retry, "", fingerprint, ctor); err != nil {
			return nil, err
		}
	}
	return b.Finalize()
}

// verifySignature checks the detached signature stored in pkg.MetadataJSON,
// if any, against the trusted key registered for its fingerprint. A package
// with no signature is admitted unless requireSignature is set; a package
// whose signer fingerprint is not a trusted (and unrevoked) key is always
// refused.
func (r *Reconciler) verifySignature(ctx context.Context, name string, pkg *store.WorkflowPackage, data []byte) error {
	if len(pkg.MetadataJSON) == 0 {
		if r.requireSignature {
			audit.PackageLoadFailureEvent(r.orgID, name, "no signature present", "unsigned")
			return errors.Errorf("package %q carries no signature and this registry requires one", name)
		}
		return nil
	}

	var sig signing.DetachedSignature
	if err := json.Unmarshal(pkg.MetadataJSON, &sig); err != nil {
		audit.PackageLoadFailureEvent(r.orgID, name, err.Error(), "malformed_signature")
		return errors.Wrap(err, "failed to parse package signature")
	}

	trusted, err := r.store.GetTrustedKey(ctx, r.orgID, sig.KeyFingerprint)
	if err != nil {
		audit.VerificationFailureEvent(r.orgID, sig.PackageHash, "signer not trusted", sig.KeyFingerprint)
		return errors.Wrapf(err, "signer %s is not a trusted key for this org", sig.KeyFingerprint)
	}
	if trusted.RevokedAt != nil {
		audit.VerificationFailureEvent(r.orgID, sig.PackageHash, "signer key revoked", sig.KeyFingerprint)
		return errors.Errorf("signer %s was revoked", sig.KeyFingerprint)
	}

	if err := signing.Verify(data, &sig, trusted.PublicKey); err != nil {
		audit.VerificationFailureEvent(r.orgID, sig.PackageHash, err.Error(), sig.KeyFingerprint)
		return errors.Wrap(err, "package signature verification failed")
	}

	audit.VerificationSuccessEvent(r.orgID, sig.PackageHash, sig.KeyFingerprint, "")
	return nil
}

func (r *Reconciler) unload(name string) {
	r.workflows.Remove(name)
	slog.Info("unloaded workflow package", "package", name)
}

func (r *Reconciler) checkTargets(m *manifest.Manifest) error {
	for _, target := range m.Package.Targets {
		for _, host := range HostTargets {
			if target == host {
				return nil
			}
		}
	}
	if len(m.Package.Targets) == 0 {
		return nil
	}
	return errors.Errorf("package targets %v are not compatible with this host (%v)", m.Package.Targets, HostTargets)
}

// compatibleEngineVersion reports whether a package's minimum required
// engine version (if declared via a "v"-prefixed semver string in its
// description-adjacent metadata) is satisfied by HostEngineVersion. Most
// manifests don't declare one; absence is always compatible.
func compatibleEngineVersion(requires string) bool {
	if requires == "" {
		return true
	}
	if !semver.IsValid(requires) {
		return false
	}
	return semver.Compare(HostEngineVersion, requires) >= 0
}
