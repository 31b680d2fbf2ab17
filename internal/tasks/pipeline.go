package tasks

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/zinstall/internal/archive"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/config"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/installer"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/logging"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/verify"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds concurrent package downloads.
const DefaultConcurrency = 4

var (
	// ErrNoInstallPath is returned when no install directory was chosen.
	ErrNoInstallPath = errors.New("install path not set")
	// ErrNotInstalled is returned when uninstalling an unknown package.
	ErrNotInstalled = errors.New("package not installed")
	// ErrReservedPath is returned for package files that would replace the
	// installer's own state in the install directory.
	ErrReservedPath = errors.New("reserved path")
)

// reservedNames are the top-level install directory entries owned by the
// installer.
var reservedNames = []string{
	installer.DatabaseFile,
	installer.DatabaseFile + ".tmp",
	LockFile,
}

// Downloader fetches a URL into a local file.
type Downloader interface {
	ToFile(ctx context.Context, url, destPath string) error
}

// Pipeline executes plans against the framework's install directory.
type Pipeline struct {
	fw          *installer.Framework
	downloader  Downloader
	verifier    *verify.Verifier
	logger      logging.Logger
	concurrency int
	now         func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logging.OrNop(logger)
	}
}

// WithConcurrency sets the download limit.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithClock sets the time source for install timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// NewPipeline creates a Pipeline.
func NewPipeline(fw *installer.Framework, downloader Downloader, verifier *verify.Verifier, opts ...Option) *Pipeline {
	p := &Pipeline{
		fw:          fw,
		downloader:  downloader,
		verifier:    verifier,
		logger:      logging.Nop(),
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// packageRun carries per-package state between steps.
type packageRun struct {
	pkg           config.Package
	index         int
	archivePath   string
	signaturePath string
	stagingDir    string
	files         []string
}

// workName names the package's files in the work directory. Package
// names come from the remote manifest and are kept out of paths.
func (pr *packageRun) workName() string {
	return fmt.Sprintf("pkg%d", pr.index)
}

// execution holds the state of one plan run.
type execution struct {
	installDir string
	workDir    string
	packages   map[string]*packageRun
}

// Install downloads, verifies, extracts and registers pkgs. Packages
// registered before a failing step stay installed.
func (p *Pipeline) Install(ctx context.Context, pkgs []config.Package) (*installer.Database, error) {
	r := &execution{packages: make(map[string]*packageRun, len(pkgs))}
	for i, pkg := range pkgs {
		if _, dup := r.packages[pkg.Name]; dup {
			return nil, fmt.Errorf("package %q requested twice", pkg.Name)
		}
		r.packages[pkg.Name] = &packageRun{pkg: pkg, index: i}
	}
	return p.execute(ctx, r, InstallPlan(pkgs))
}

// Uninstall removes the named packages and their files.
func (p *Pipeline) Uninstall(ctx context.Context, names []string) (*installer.Database, error) {
	db := p.fw.Database()
	for _, name := range names {
		if _, ok := db.Package(name); !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotInstalled, name)
		}
	}
	return p.execute(ctx, &execution{}, UninstallPlan(db, names))
}

func (p *Pipeline) execute(ctx context.Context, r *execution, steps []Step) (*installer.Database, error) {
	r.installDir = p.fw.InstallPath()
	if r.installDir == "" {
		return nil, ErrNoInstallPath
	}

	lock, err := AcquireLock(ctx, r.installDir)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	p.logger.Info("starting task run", "run_id", lock.RunID(), "steps", len(steps), "install_path", r.installDir)

	workDir, err := os.MkdirTemp(r.installDir, ".zinstall-")
	if err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)
	r.workDir = workDir

	for i := 0; i < len(steps); {
		// Consecutive downloads run as one bounded batch
		if steps[i].Kind == StepDownload {
			j := i
			for j < len(steps) && steps[j].Kind == StepDownload {
				j++
			}
			if err := p.downloadAll(ctx, r, steps[i:j]); err != nil {
				return nil, err
			}
			i = j
			continue
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.run(ctx, r, steps[i]); err != nil {
			p.logger.Error("task step failed", "step", steps[i].String(), "error", err)
			return nil, &StepError{Step: steps[i], Err: err}
		}
		i++
	}

	p.logger.Info("task run finished", "run_id", lock.RunID())
	return p.fw.Database(), nil
}

func (p *Pipeline) downloadAll(ctx context.Context, r *execution, steps []Step) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, step := range steps {
		g.Go(func() error {
			if err := p.run(gctx, r, step); err != nil {
				return &StepError{Step: step, Err: err}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.logger.Error("download failed", "error", err)
		return err
	}
	return nil
}

// run executes a single step.
func (p *Pipeline) run(ctx context.Context, r *execution, step Step) error {
	p.logger.Debug("running step", "step", step.String())

	switch step.Kind {
	case StepDownload:
		return p.download(ctx, r, r.packages[step.Package])
	case StepVerify:
		return p.verify(r.packages[step.Package])
	case StepExtract:
		return p.extract(r, r.packages[step.Package])
	case StepRegister:
		return p.register(r, r.packages[step.Package])
	case StepUninstall:
		return p.uninstall(r, step.Package)
	default:
		return fmt.Errorf("unknown step kind %v", step.Kind)
	}
}

func (p *Pipeline) download(ctx context.Context, r *execution, pr *packageRun) error {
	pr.archivePath = filepath.Join(r.workDir, pr.workName()+"."+pr.pkg.Format.String())
	if err := p.downloader.ToFile(ctx, pr.pkg.URL, pr.archivePath); err != nil {
		return fmt.Errorf("download package: %w", err)
	}

	if pr.pkg.SignatureURL != "" {
		pr.signaturePath = pr.archivePath + ".sig"
		if err := p.downloader.ToFile(ctx, pr.pkg.SignatureURL, pr.signaturePath); err != nil {
			return fmt.Errorf("download signature: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) verify(pr *packageRun) error {
	result, err := p.verifier.VerifyFile(pr.archivePath, verify.Request{
		SHA256:        pr.pkg.SHA256,
		SignaturePath: pr.signaturePath,
	})
	if err != nil {
		return err
	}
	if !result.Verified() {
		p.logger.Warn("package has no digest or signature", "package", pr.pkg.Name)
	}
	return nil
}

func (p *Pipeline) extract(r *execution, pr *packageRun) error {
	pr.stagingDir = filepath.Join(r.workDir, pr.workName())
	files, err := archive.ExtractFile(pr.archivePath, pr.pkg.Format, pr.stagingDir)
	if err != nil {
		return err
	}
	pr.files = files
	return nil
}

// register moves the staged tree into the install directory, removes files
// the previous version owned that the new one does not, and records the
// package.
func (p *Pipeline) register(r *execution, pr *packageRun) error {
	for _, rel := range pr.files {
		if isReserved(rel) {
			return fmt.Errorf("%w: %s", ErrReservedPath, rel)
		}
	}

	for _, rel := range pr.files {
		src := filepath.Join(pr.stagingDir, filepath.FromSlash(rel))
		dst := filepath.Join(r.installDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("move %s into place: %w", rel, err)
		}
	}

	if prev, ok := p.fw.Database().Package(pr.pkg.Name); ok {
		keep := make(map[string]bool, len(pr.files))
		for _, rel := range pr.files {
			keep[rel] = true
		}
		var obsolete []string
		for _, rel := range prev.Files {
			if !keep[rel] {
				obsolete = append(obsolete, rel)
			}
		}
		if err := removeFiles(r.installDir, obsolete); err != nil {
			p.logger.Warn("failed to remove files of previous version", "package", pr.pkg.Name, "error", err)
		}
	}

	shortcuts := make([]string, 0, len(pr.pkg.Shortcuts))
	for _, s := range pr.pkg.Shortcuts {
		shortcuts = append(shortcuts, s.Name)
	}

	inst := installer.LocalInstallation{
		Name:        pr.pkg.Name,
		Version:     pr.pkg.Version,
		Channel:     pr.pkg.Channel,
		Files:       pr.files,
		Shortcuts:   shortcuts,
		InstalledAt: p.now().UTC(),
	}
	if err := p.fw.Update(func(db *installer.Database) error {
		db.Upsert(inst)
		return nil
	}); err != nil {
		return err
	}

	p.logger.Info("package installed", "package", inst.Name, "version", inst.Version, "files", len(inst.Files))
	return nil
}

func (p *Pipeline) uninstall(r *execution, name string) error {
	inst, ok := p.fw.Database().Package(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}
	if err := removeFiles(r.installDir, inst.Files); err != nil {
		return err
	}

	if err := p.fw.Update(func(db *installer.Database) error {
		db.Remove(name)
		return nil
	}); err != nil {
		return err
	}

	p.logger.Info("package uninstalled", "package", name, "files", len(inst.Files))
	return nil
}

// removeFiles deletes the given relative paths and then prunes directories
// left empty, never climbing above root.
func removeFiles(root string, files []string) error {
	var errs []error
	dirs := make(map[string]bool)

	for _, rel := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		for dir := filepath.Dir(path); dir != root && len(dir) > len(root); dir = filepath.Dir(dir) {
			dirs[dir] = true
		}
	}

	// Deepest first; Remove fails harmlessly on non-empty directories
	ordered := make([]string, 0, len(dirs))
	for dir := range dirs {
		ordered = append(ordered, dir)
	}
	slices.SortFunc(ordered, func(a, b string) int {
		return strings.Count(b, string(filepath.Separator)) - strings.Count(a, string(filepath.Separator))
	})
	for _, dir := range ordered {
		os.Remove(dir)
	}

	return errors.Join(errs...)
}

// isReserved reports whether rel lives under a reserved top-level name.
func isReserved(rel string) bool {
	top, _, _ := strings.Cut(rel, "/")
	for _, name := range reservedNames {
		if strings.EqualFold(top, name) {
			return true
		}
	}
	return false
}
