// Command helm is a bounded CLI driver for the trust kernel: it wires
// policy, budget, workspace boundary, capability, allowance, approval and
// audit-log state for a single workspace and intercepts one action per
// invocation, exiting with the process exit codes §6 specifies so scripts
// and CI jobs can branch on the outcome without parsing output.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/Mindburn-Labs/helm/core/pkg/action"
	"github.com/Mindburn-Labs/helm/core/pkg/allowance"
	"github.com/Mindburn-Labs/helm/core/pkg/approval"
	"github.com/Mindburn-Labs/helm/core/pkg/auditlog"
	"github.com/Mindburn-Labs/helm/core/pkg/budget"
	"github.com/Mindburn-Labs/helm/core/pkg/capabilities"
	hkcrypto "github.com/Mindburn-Labs/helm/core/pkg/crypto"
	"github.com/Mindburn-Labs/helm/core/pkg/interceptor"
	"github.com/Mindburn-Labs/helm/core/pkg/kernelconfig"
	"github.com/Mindburn-Labs/helm/core/pkg/kernelerrors"
	"github.com/Mindburn-Labs/helm/core/pkg/kernelobs"
	"github.com/Mindburn-Labs/helm/core/pkg/kvstore"
	"github.com/Mindburn-Labs/helm/core/pkg/policy"
	"github.com/Mindburn-Labs/helm/core/pkg/wsboundary"
)

// Exit codes, fixed by the specification (§6): scripts invoking this binary
// branch on these, not on stderr text.
const (
	ExitOK                  = 0
	ExitUsage               = 2
	ExitApprovalDenied      = 2
	ExitBudgetExceeded      = 3
	ExitWorkspaceViolation  = 4
	ExitAuditChainCorrupted = 5
)

func main() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing: it never calls os.Exit itself.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return ExitUsage
	}

	switch args[0] {
	case "check":
		return runCheck(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return ExitOK
	default:
		fmt.Fprintf(stderr, "helm: unknown command %q\n", args[0])
		printUsage(stderr)
		return ExitUsage
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "helm - agent runtime trust kernel")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "usage: helm check [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  -workspace string   workspace root (default: current directory)")
	fmt.Fprintln(w, "  -actor string       acting identity recorded in the audit entry (default: \"agent:cli\")")
	fmt.Fprintln(w, "  -session string     session id scoping allowances (default: \"cli\")")
	fmt.Fprintln(w, "  -kind string        action kind, e.g. file_read, execute_command, network_request")
	fmt.Fprintln(w, "  -path string        path for file_* actions")
	fmt.Fprintln(w, "  -command string     command for execute_command")
	fmt.Fprintln(w, "  -host string        host for network_request")
	fmt.Fprintln(w, "  -cost int           cost estimate in cents, checked against budget")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "exit codes: 0 ok, 2 approval denied, 3 budget exceeded, 4 workspace boundary violation, 5 audit chain corrupted")
}

func runCheck(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	workspace := fs.String("workspace", ".", "workspace root")
	actor := fs.String("actor", "agent:cli", "acting identity")
	session := fs.String("session", "cli", "session id")
	kind := fs.String("kind", "file_read", "action kind")
	path := fs.String("path", "", "path for file_* actions")
	command := fs.String("command", "", "command for execute_command")
	host := fs.String("host", "", "host for network_request")
	cost := fs.Int64("cost", -1, "cost estimate in cents (-1 = no estimate)")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	root, err := filepath.Abs(*workspace)
	if err != nil {
		fmt.Fprintf(stderr, "helm: resolve workspace: %v\n", err)
		return ExitUsage
	}

	ctx := context.Background()
	k, err := bootstrap(ctx, root)
	if err != nil {
		if kernelerrors.KindOf(err) == kernelerrors.KindChainCorruption {
			fmt.Fprintf(stderr, "helm: audit chain corrupted: %v\n", err)
			return ExitAuditChainCorrupted
		}
		fmt.Fprintf(stderr, "helm: bootstrap: %v\n", err)
		return ExitUsage
	}
	defer k.Close()

	sa := action.SensitiveAction{
		Kind:    action.Kind(*kind),
		Path:    *path,
		Command: *command,
		Host:    *host,
	}

	var costPtr *int64
	if *cost >= 0 {
		costPtr = cost
	}

	outcome, err := k.observer.Intercept(ctx, k.interceptor, interceptor.Context{
		Actor:         *actor,
		SessionID:     *session,
		WorkspaceRoot: root,
	}, sa, costPtr)
	if err != nil {
		fmt.Fprintf(stderr, "helm: denied: %v\n", err)
		return exitCodeFor(err)
	}

	fmt.Fprintf(stdout, "allowed: proof=%s entry=%s sequence=%d\n", outcome.Proof.Kind, outcome.AuditEntry.ID, outcome.AuditEntry.Sequence)
	if outcome.BudgetWarning != nil {
		fmt.Fprintf(stdout, "warning: budget at %.0f%% of session limit\n", outcome.BudgetWarning.PercentUsed)
	}
	return ExitOK
}

// exitCodeFor maps a kernelerrors.Kind to the fixed exit code contract.
func exitCodeFor(err error) int {
	kerr, ok := err.(*kernelerrors.KernelError)
	switch kernelerrors.KindOf(err) {
	case kernelerrors.KindBudgetExceeded:
		return ExitBudgetExceeded
	case kernelerrors.KindPolicyDenied:
		if ok && kerr.Reason == "workspace_boundary" {
			return ExitWorkspaceViolation
		}
		return ExitApprovalDenied
	default:
		return ExitApprovalDenied
	}
}

// kernel bundles every long-lived resource a single check needs: the
// interceptor itself, its observability wrapper, and the handles that must
// be released (and, for the budget counter and workspace allowances,
// flushed) on exit.
type kernel struct {
	interceptor   *interceptor.Interceptor
	observer      *kernelobs.Observer
	store         *kvstore.Store
	budget        *budget.PersistentTracker
	allowances    *allowance.Store
	signer        *hkcrypto.Ed25519Signer
	workspaceRoot string
}

// Close persists everything an `AllowWorkspace` grant or a budget spend
// accumulated during this invocation before the process exits: the
// cumulative budget counter and the signed workspace allowance bundle
// (spec.md §6's "exported workspace allowances"), both into the same
// workspace state file. Without this, every workspace-scoped grant would be
// discarded the instant a one-action-per-invocation process exits.
func (k *kernel) Close() {
	_ = k.budget.Persist(context.Background())
	if err := k.persistWorkspaceAllowances(); err != nil {
		log.Printf("helm: persist workspace allowances: %v", err)
	}
	_ = k.observer.Shutdown(context.Background())
	_ = k.store.Close()
}

// persistWorkspaceAllowances signs and saves the current set of
// workspace-scoped allowances so the next invocation against this workspace
// (bootstrap's loadWorkspaceAllowances) sees every `AllowWorkspace` grant
// this process minted, not just the ones minted by its own in-memory store.
func (k *kernel) persistWorkspaceAllowances() error {
	bundle, err := k.allowances.ExportWorkspaceBundle(k.workspaceRoot, k.signer, time.Now())
	if err != nil {
		return fmt.Errorf("build allowance bundle: %w", err)
	}
	bundleJSON, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("encode allowance bundle: %w", err)
	}
	return k.store.SaveAllowanceBundle(k.workspaceRoot, bundleJSON)
}

// stateDir is where the runtime signing key, the workspace state database
// and the audit log live, per §6's "<workspace>/.<product>/state"
// convention.
func stateDir(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, kvstore.DefaultStateDirName)
}

// bootstrap assembles the full pipeline for workspaceRoot: loads the merged
// policy/workspace configuration, opens the workspace state store, loads or
// mints the runtime signing key, and constructs an Interceptor wrapped by a
// kernelobs Observer. Returns a KindChainCorruption error if the audit log's
// tail fails verification (§7's one fatal condition).
func bootstrap(ctx context.Context, workspaceRoot string) (*kernel, error) {
	merged, err := kernelconfig.LoadMerged("HELM", filepath.Join(workspaceRoot, "workspace.yaml"))
	if err != nil {
		return nil, fmt.Errorf("load workspace config: %w", err)
	}

	pol, err := kernelconfig.LoadPolicy(filepath.Join(workspaceRoot, "policy.yaml"))
	if err != nil {
		// No policy file is a valid starting point: an empty policy falls
		// through to budget/boundary/capability/allowance/approval for
		// every action, the conservative default.
		pol, err = policy.New()
		if err != nil {
			return nil, fmt.Errorf("build default policy: %w", err)
		}
	}

	dir := stateDir(workspaceRoot)
	keys, err := hkcrypto.NewRuntimeKeyStore(dir)
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	signer, err := keys.LoadOrCreate("runtime")
	if err != nil {
		return nil, fmt.Errorf("load runtime key: %w", err)
	}

	store, err := kvstore.Open(kvstore.StatePath(workspaceRoot), signer.PublicKeyBytes())
	if err != nil {
		return nil, fmt.Errorf("open workspace state: %w", err)
	}

	budgetTracker, err := budget.LoadPersistentTracker(ctx, store, workspaceRoot,
		merged.Config.SessionLimitCents, merged.Config.PerActionLimitCents, merged.Config.WarnFraction)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load budget: %w", err)
	}

	boundary := wsboundary.New(merged.Config, log.Printf)

	auditStorage, err := auditlog.OpenFileStorage(filepath.Join(dir, "audit.ndjson"))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	auditLog, err := auditlog.New(auditStorage, signer)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	approvals := approval.NewManager(store.DeferredStore())
	approvals.Attach(&cliFrontend{out: os.Stdout, in: os.Stdin})

	tokenStore := capabilities.NewTokenStore()
	verifier := capabilities.NewVerifier(tokenStore).TrustIssuer(signer.PublicKey())

	allowances, err := loadWorkspaceAllowances(store, workspaceRoot, signer.PublicKey())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load workspace allowances: %w", err)
	}

	ic := interceptor.New(
		pol,
		budgetTracker.Tracker,
		boundary,
		tokenStore,
		verifier,
		allowances,
		approvals,
		auditLog,
		signer,
	)

	obs, err := kernelobs.New(ctx, observabilityConfigFromEnv())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init observability: %w", err)
	}

	return &kernel{
		interceptor:   ic,
		observer:      obs,
		store:         store,
		budget:        budgetTracker,
		allowances:    allowances,
		signer:        signer,
		workspaceRoot: workspaceRoot,
	}, nil
}

// loadWorkspaceAllowances reloads a workspace's previously-exported
// allowance bundle, if one exists, verifying it against issuerPubKeyHex
// before importing -- a corrupted or re-signed-by-someone-else bundle is
// dropped rather than trusted. A fresh workspace with no saved bundle
// starts with an empty store, same as before this bundle existed.
func loadWorkspaceAllowances(store *kvstore.Store, workspaceRoot, issuerPubKeyHex string) (*allowance.Store, error) {
	allowances := allowance.NewStore()

	bundleJSON, ok, err := store.LoadAllowanceBundle(workspaceRoot)
	if err != nil {
		return nil, err
	}
	if !ok {
		return allowances, nil
	}

	var bundle allowance.WorkspaceBundle
	if err := json.Unmarshal(bundleJSON, &bundle); err != nil {
		return nil, fmt.Errorf("decode allowance bundle: %w", err)
	}
	valid, err := allowance.VerifyWorkspaceBundle(bundle, issuerPubKeyHex)
	if err != nil {
		return nil, fmt.Errorf("verify allowance bundle: %w", err)
	}
	if !valid {
		log.Printf("helm: workspace allowance bundle failed verification, ignoring")
		return allowances, nil
	}

	allowances.ImportAllowances(bundle.Allowances)
	return allowances, nil
}

// observabilityConfigFromEnv builds a kernelobs.Config from HELM_OTLP_*
// environment variables, defaulting to disabled so a plain CLI invocation
// never blocks on a collector that isn't there.
func observabilityConfigFromEnv() kernelobs.Config {
	cfg := kernelobs.DefaultConfig()
	if endpoint := os.Getenv("HELM_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Enabled = true
		cfg.OTLPEndpoint = endpoint
	}
	return cfg
}
