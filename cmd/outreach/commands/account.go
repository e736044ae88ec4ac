package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/roasbeef/outreach/internal/account"
	"github.com/roasbeef/outreach/internal/admin"
	"github.com/roasbeef/outreach/internal/config"
	"github.com/spf13/cobra"
)

var (
	accountPlatform string
	accountRole     string
	accountHandle   string
	accountMaturity string

	// accountAdmin overrides admin_addr for the lifecycle commands.
	accountAdmin string

	restFor   string
	restUntil string
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Register, inspect and move accounts",
	Long: `Register accounts with the pool, list them and move them through
their lifecycle.

add and list work on the database directly. The daemon loads accounts when
it starts, so restart it after adding one.

promote, activate and rest change the running daemon's pool through its
admin API, so the daemon must be running with admin_addr set.`,
}

var accountAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Register a new account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountAdd,
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered accounts",
	Args:  cobra.NoArgs,
	RunE:  runAccountList,
}

var accountPromoteCmd = &cobra.Command{
	Use:   "promote <id>",
	Short: "Advance an account one maturity step",
	Long: `Advance an account one maturity step:
new -> nurturing -> active -> resting -> active.`,
	Args: cobra.ExactArgs(1),
	RunE: runAccountPromote,
}

var accountActivateCmd = &cobra.Command{
	Use:   "activate <id>",
	Short: "Put a resting or nurturing account back into rotation",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountActivate,
}

var accountRestCmd = &cobra.Command{
	Use:   "rest <id>",
	Short: "Take an account out of rotation for a while",
	Long: `Take an account out of rotation until --until, for --for, or for
the health cooldown when neither is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runAccountRest,
}

func init() {
	accountCmd.PersistentFlags().StringVar(
		&accountAdmin, "admin", "",
		"Admin API address of the daemon (default: admin_addr from the config)",
	)
	accountRestCmd.Flags().StringVar(
		&restFor, "for", "",
		"Rest duration, e.g. 4h",
	)
	accountRestCmd.Flags().StringVar(
		&restUntil, "until", "",
		"Rest until this RFC 3339 instant",
	)

	accountAddCmd.Flags().StringVar(
		&accountPlatform, "platform", "",
		"Platform the account belongs to (default: platform from the config)",
	)
	accountAddCmd.Flags().StringVar(
		&accountRole, "role", string(account.RoleOutreach),
		"Account role: crawl or outreach",
	)
	accountAddCmd.Flags().StringVar(
		&accountHandle, "handle", "",
		"Opaque credential handle passed to the driver",
	)
	accountAddCmd.Flags().StringVar(
		&accountMaturity, "maturity", string(account.MaturityNew),
		"Starting maturity: new, nurturing, active or resting",
	)

	accountCmd.AddCommand(accountAddCmd)
	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(accountPromoteCmd)
	accountCmd.AddCommand(accountActivateCmd)
	accountCmd.AddCommand(accountRestCmd)
}

// statusForMaturity is the operational status an account starts in.
func statusForMaturity(m account.Maturity) (account.Status, error) {
	switch m {
	case account.MaturityNew, account.MaturityNurturing:
		return account.StatusNurturing, nil

	case account.MaturityActive:
		return account.StatusActive, nil

	case account.MaturityResting:
		return account.StatusResting, nil

	default:
		return "", fmt.Errorf("unknown maturity %q", m)
	}
}

func runAccountAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	role := account.Role(accountRole)
	if role != account.RoleCrawl && role != account.RoleOutreach {
		return fmt.Errorf("unknown role %q", accountRole)
	}
	maturity := account.Maturity(accountMaturity)
	status, err := statusForMaturity(maturity)
	if err != nil {
		return err
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	platform := accountPlatform
	if platform == "" {
		platform = e.cfg.Platform
	}

	existing, err := e.repo.LoadAccounts(ctx, "")
	if err != nil {
		return err
	}
	for _, a := range existing {
		if a.ID == args[0] {
			return fmt.Errorf("account %q already exists", a.ID)
		}
	}

	handle := accountHandle
	if handle == "" {
		handle = args[0]
	}

	acct := account.Account{
		ID:       args[0],
		Platform: platform,
		Role:     role,
		Handle:   handle,
		Status:   status,
		Maturity: maturity,
		Counters: make(map[account.Counter]int),
	}
	if err := e.repo.UpsertAccount(ctx, acct); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Added %s account %s on %s (%s)\n",
		role, acct.ID, platform, maturity)

	return nil
}

func runAccountList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	accounts, err := e.repo.LoadAccounts(ctx, "")
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		if accounts == nil {
			accounts = []account.Account{}
		}

		return outputJSON(cmd.OutOrStdout(), accounts)
	}

	if len(accounts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No accounts.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPLATFORM\tROLE\tSTATUS\tMATURITY\tLAST USED")
	for _, a := range accounts {
		lastUsed := "never"
		if a.LastUsedAt != nil {
			lastUsed = a.LastUsedAt.In(e.loc).Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", a.ID, a.Platform,
			a.Role, a.Status, a.Maturity, lastUsed)
	}

	return tw.Flush()
}

// adminClient connects to the running daemon's admin API.
func adminClient() (*admin.Client, error) {
	addr := accountAdmin
	if addr == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		addr = cfg.AdminAddr
	}
	if addr == "" {
		return nil, fmt.Errorf("%w: admin_addr is empty, the daemon's "+
			"admin API is disabled", config.ErrInvalid)
	}

	return admin.NewClient(addr, nil)
}

func runAccountPromote(cmd *cobra.Command, args []string) error {
	c, err := adminClient()
	if err != nil {
		return err
	}

	a, err := c.Promote(context.Background(), args[0])
	if err != nil {
		return err
	}

	return printAccountChange(cmd.OutOrStdout(), "Promoted", a)
}

func runAccountActivate(cmd *cobra.Command, args []string) error {
	c, err := adminClient()
	if err != nil {
		return err
	}

	a, err := c.Activate(context.Background(), args[0])
	if err != nil {
		return err
	}

	return printAccountChange(cmd.OutOrStdout(), "Activated", a)
}

func runAccountRest(cmd *cobra.Command, args []string) error {
	var req admin.RestRequest
	if restFor != "" {
		if _, err := time.ParseDuration(restFor); err != nil {
			return fmt.Errorf("--for: %w", err)
		}
		req.For = restFor
	}
	if restUntil != "" {
		until, err := time.Parse(time.RFC3339, restUntil)
		if err != nil {
			return fmt.Errorf("--until: %w", err)
		}
		req.Until = until
	}

	c, err := adminClient()
	if err != nil {
		return err
	}

	a, err := c.Rest(context.Background(), args[0], req)
	if err != nil {
		return err
	}

	return printAccountChange(cmd.OutOrStdout(), "Resting", a)
}

func printAccountChange(w io.Writer, verb string, a account.Account) error {
	if outputFormat == "json" {
		return outputJSON(w, a)
	}

	fmt.Fprintf(w, "%s %s: status=%s maturity=%s", verb, a.ID, a.Status,
		a.Maturity)
	if a.RestingUntil != nil {
		fmt.Fprintf(w, " until=%s", a.RestingUntil.Format(time.RFC3339))
	}
	fmt.Fprintln(w)

	return nil
}
