package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"clustersec.org/internal/audit"
	"clustersec.org/internal/bootstrap"
	"clustersec.org/internal/certs"
	"clustersec.org/internal/config"
	"clustersec.org/internal/grants"
	"clustersec.org/internal/obs"
	"clustersec.org/internal/rbac"
	"clustersec.org/internal/report"
	"clustersec.org/internal/secapi"
	"clustersec.org/internal/secrets"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	log.SetFlags(0)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		configPath = flag.String("config", os.Getenv("CLUSTERSEC_CONFIG"), "Path to YAML config")
		insecure   = flag.Bool("insecure", false, "Skip TLS verification against the cluster")
	)
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var clientOpts []secapi.Option
	if *insecure {
		clientOpts = append(clientOpts, secapi.WithInsecureTLS())
	}
	client, err := secapi.New(cfg.API, clientOpts...)
	if err != nil {
		log.Fatalf("security api client: %v", err)
	}
	auditLog := audit.NewLogger(cfg.AuditLogPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	app := &app{cfg: cfg, client: client, audit: auditLog}
	if err := app.run(ctx, flag.Args()); err != nil {
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
}

type app struct {
	cfg    config.Config
	client *secapi.Client
	audit  *audit.Logger
}

func (a *app) run(ctx context.Context, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "bootstrap":
		return a.runBootstrap(ctx)
	case "user-create":
		return a.runUserCreate(ctx, rest)
	case "user-delete":
		return a.runUserDelete(ctx, rest)
	case "grant":
		return a.runGrant(ctx, rest)
	case "revoke-temp":
		return a.runRevokeTemp(ctx, rest)
	case "check":
		return a.runCheck(ctx, rest)
	case "cert-issue":
		return a.runCertIssue(rest)
	case "cert-verify":
		return a.runCertVerify(rest)
	case "report":
		return a.runReport(ctx, rest)
	default:
		usage()
		return nil
	}
}

func (a *app) actor(ctx context.Context) string {
	info, err := a.client.Authenticate(ctx)
	if err != nil || info.Username == "" {
		return a.cfg.API.Username
	}
	return info.Username
}

func (a *app) runBootstrap(ctx context.Context) error {
	creds, err := bootstrap.EnsureDefaultPrincipals(ctx, a.client, a.audit, a.cfg.CredentialsPath)
	if err != nil {
		return err
	}
	fmt.Printf("created %d principals; credentials written to %s\n", len(creds), a.cfg.CredentialsPath)
	return nil
}

func (a *app) runUserCreate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("user-create", flag.ExitOnError)
	var (
		username = fs.String("username", "", "Username (required)")
		password = fs.String("password", "", "Password (generated when empty)")
		fullName = fs.String("full-name", "", "Display name")
		email    = fs.String("email", "", "Email address")
		roles    = fs.String("roles", "", "Comma-separated role names")
	)
	fs.Parse(args)
	user := rbac.User{
		Username: *username,
		Password: *password,
		FullName: *fullName,
		Email:    *email,
		Roles:    splitList(*roles),
	}
	if user.Password == "" {
		generated, err := secrets.NewPassword(secrets.DefaultPasswordLength)
		if err != nil {
			return err
		}
		user.Password = generated
		fmt.Printf("generated password for %s: %s\n", user.Username, generated)
	}
	outcome, err := a.client.CreateUser(ctx, user)
	if err != nil {
		return err
	}
	a.audit.Record(ctx, a.actor(ctx), "user.create", user.Username, strings.Join(user.Roles, ","))
	fmt.Printf("user %s: %s\n", user.Username, outcome)
	return nil
}

func (a *app) runUserDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("user-delete", flag.ExitOnError)
	username := fs.String("username", "", "Username (required)")
	fs.Parse(args)
	outcome, err := a.client.DeleteUser(ctx, *username)
	if err != nil {
		return err
	}
	if outcome == rbac.OutcomeChanged {
		a.audit.Record(ctx, a.actor(ctx), "user.delete", *username, "")
		fmt.Printf("user %s: deleted\n", *username)
		return nil
	}
	fmt.Printf("user %s: skipped, not found\n", *username)
	return nil
}

func (a *app) runGrant(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("grant", flag.ExitOnError)
	var (
		username   = fs.String("username", "", "User receiving the grant")
		pattern    = fs.String("index", "", "Index name pattern")
		privileges = fs.String("privileges", "read", "Comma-separated privileges")
	)
	fs.Parse(args)
	mgr, err := grants.NewManager(a.client, a.audit, a.actor(ctx))
	if err != nil {
		return err
	}
	grant, err := mgr.GrantScopedAccess(ctx, *username, *pattern, splitList(*privileges))
	if err != nil {
		return err
	}
	fmt.Printf("grant %s on %s to %s: %s (role %s)\n", *privileges, *pattern, *username, grant.Outcome, grant.RoleName)
	return nil
}

func (a *app) runRevokeTemp(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("revoke-temp", flag.ExitOnError)
	maxAgeDays := fs.Int("max-age-days", 0, "Accepted for compatibility; the sweep currently removes all temporary grants")
	fs.Parse(args)
	mgr, err := grants.NewManager(a.client, a.audit, a.actor(ctx))
	if err != nil {
		return err
	}
	revoked, err := mgr.RevokeExpiredGrants(ctx, *maxAgeDays)
	if err != nil {
		return err
	}
	for _, r := range revoked {
		fmt.Printf("revoked %s\n", r.RoleName)
	}
	fmt.Printf("%d temporary grants revoked\n", len(revoked))
	return nil
}

func (a *app) runCheck(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	var (
		username   = fs.String("username", "", "User to evaluate")
		index      = fs.String("index", "", "Target index name")
		privileges = fs.String("privileges", "read", "Comma-separated privileges")
	)
	fs.Parse(args)
	evaluator, err := rbac.NewEvaluator(a.client, a.cfg.Evaluation)
	if err != nil {
		return err
	}
	decision, err := evaluator.Evaluate(ctx, *username, *index, splitList(*privileges))
	if err != nil {
		return err
	}
	verdict := "DENY"
	if decision.Allowed {
		verdict = "ALLOW"
	}
	fmt.Printf("%s: %s\n", verdict, decision.Reason)
	return nil
}

func (a *app) runCertIssue(args []string) error {
	fs := flag.NewFlagSet("cert-issue", flag.ExitOnError)
	var (
		domain = fs.String("domain", "", "Certificate domain (required)")
		force  = fs.Bool("force", false, "Replace an existing certificate (old pair archived)")
	)
	fs.Parse(args)
	mgr, err := certs.NewManager(a.cfg.CertDir)
	if err != nil {
		return err
	}
	info, err := mgr.IssueCertificate(*domain, *force)
	if err != nil {
		return err
	}
	a.audit.Record(context.Background(), a.cfg.API.Username, "cert.issue", *domain, info.Path)
	fmt.Printf("certificate for %s valid until %s at %s\n", info.Domain, info.NotAfter.Format(time.RFC3339), info.Path)
	return nil
}

func (a *app) runCertVerify(args []string) error {
	fs := flag.NewFlagSet("cert-verify", flag.ExitOnError)
	path := fs.String("path", "", "Certificate file; empty verifies all managed certificates")
	fs.Parse(args)
	mgr, err := certs.NewManager(a.cfg.CertDir)
	if err != nil {
		return err
	}
	var reports []certs.ValidityReport
	if *path != "" {
		rep, err := mgr.Verify(*path)
		if err != nil {
			return err
		}
		reports = append(reports, rep)
	} else if reports, err = mgr.VerifyAll(); err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(reports)
}

func (a *app) runReport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	kind := fs.String("kind", string(report.KindPermissions), "permissions or security-audit")
	fs.Parse(args)
	certMgr, err := certs.NewManager(a.cfg.CertDir)
	if err != nil {
		return err
	}
	gen, err := report.NewGenerator(a.client, certMgr, a.cfg.ReportDir)
	if err != nil {
		return err
	}
	path, err := gen.GenerateReport(ctx, report.Kind(*kind))
	if err != nil {
		return err
	}
	fmt.Printf("report written to %s\n", path)
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: %s [-config path] [-insecure] <command> [flags]

commands:
  bootstrap    create default principals and the credentials file
  user-create  create a user
  user-delete  delete a user (absent user is a skip, not an error)
  grant        grant scoped index access via a temporary role
  revoke-temp  sweep temporary grant roles
  check        evaluate (user, index, privileges)
  cert-issue   issue a certificate for a domain
  cert-verify  verify one or all managed certificates
  report       generate a permissions or security-audit report
`, os.Args[0])
	os.Exit(1)
}
