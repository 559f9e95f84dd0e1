package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/soetuniversity/portal/internal/config"
	"github.com/soetuniversity/portal/internal/model"
	"github.com/soetuniversity/portal/internal/service"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin accounts",
		Long:  "Bootstrap the first super admin and manage admin accounts directly against the store.",
	}

	cmd.AddCommand(newAdminBootstrapCmd())
	cmd.AddCommand(newAdminCreateCmd())
	cmd.AddCommand(newAdminListCmd())
	cmd.AddCommand(newAdminUnlockCmd())
	cmd.AddCommand(newAdminSetActiveCmd("deactivate", false))
	cmd.AddCommand(newAdminSetActiveCmd("activate", true))

	return cmd
}

// withStore opens the configured store for the duration of fn.
func withStore(fn func(ctx context.Context, store *config.Store) error) error {
	cfg := loadSettings(viper.GetViper())
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	return fn(context.Background(), store)
}

// promptPassword reads a password and its confirmation from the terminal.
func promptPassword() (string, error) {
	fmt.Print("Password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	fmt.Println()

	if string(pw) != string(confirm) {
		return "", errors.New("passwords do not match")
	}
	return string(pw), nil
}

func parsePermissions(raw []string) ([]model.Permission, error) {
	perms := make([]model.Permission, 0, len(raw))
	for _, r := range raw {
		for _, p := range strings.Split(r, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			perm := model.Permission(p)
			if !perm.Valid() {
				return nil, fmt.Errorf("unknown permission %q", p)
			}
			perms = append(perms, perm)
		}
	}
	return perms, nil
}

func parseAdminID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid admin id %q", arg)
	}
	return id, nil
}

// ---------- admin bootstrap ----------

func newAdminBootstrapCmd() *cobra.Command {
	var email, password, name, username string

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the first super admin",
		Long:  "Create the initial super admin account. Refuses to run once a super admin exists.",
		Example: `  portal admin bootstrap --email root@soet.edu
  portal admin bootstrap --email root@soet.edu --password 'S3cure!pass'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				var err error
				if password, err = promptPassword(); err != nil {
					return err
				}
			}
			return withStore(func(ctx context.Context, store *config.Store) error {
				svc := service.NewAuthService(store, service.AuthConfig{Hasher: store.Hasher()})
				admin, err := svc.Bootstrap(ctx, service.RegisterInput{
					Name:     name,
					Username: username,
					Email:    email,
					Password: password,
				})
				if errors.Is(err, service.ErrAlreadyBootstrapped) {
					return errors.New("a super admin already exists; use 'portal admin create' or the API")
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created super admin %q (id %d)\n", admin.Email, admin.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&name, "name", "Super Admin", "Display name")
	cmd.Flags().StringVar(&username, "username", "", "Username (derived from email if omitted)")
	cmd.MarkFlagRequired("email")

	return cmd
}

// ---------- admin create ----------

func newAdminCreateCmd() *cobra.Command {
	var (
		email, password, name, username, role string
		permissions                           []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an admin account",
		Example: `  portal admin create --email editor@soet.edu --name Editor --permissions manage_content
  portal admin create --email ops@soet.edu --name Ops --role super_admin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := model.Role(role)
			if !r.Valid() {
				return fmt.Errorf("invalid role %q (expected admin or super_admin)", role)
			}
			perms, err := parsePermissions(permissions)
			if err != nil {
				return err
			}
			if password == "" {
				if password, err = promptPassword(); err != nil {
					return err
				}
			}
			if username == "" {
				username = model.UsernameFromEmail(email)
			}
			return withStore(func(ctx context.Context, store *config.Store) error {
				admin := &model.Admin{
					Name:        name,
					Username:    username,
					Email:       email,
					Password:    password,
					Role:        r,
					Permissions: perms,
					IsActive:    true,
				}
				if err := store.CreateAdmin(ctx, admin); err != nil {
					var verr *model.ValidationError
					if errors.As(err, &verr) {
						return fmt.Errorf("invalid account: %s", verr.Error())
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s %q (id %d)\n", admin.Role, admin.Email, admin.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Display name (required)")
	cmd.Flags().StringVar(&username, "username", "", "Username (derived from email if omitted)")
	cmd.Flags().StringVar(&role, "role", string(model.RoleAdmin), "Role: admin or super_admin")
	cmd.Flags().StringSliceVar(&permissions, "permissions", nil, "Comma-separated permissions")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("name")

	return cmd
}

// ---------- admin list ----------

func newAdminListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List admin accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store *config.Store) error {
				admins, err := store.ListAdmins(ctx)
				if err != nil {
					return err
				}
				return printAdmins(cmd.OutOrStdout(), admins, jsonOutput)
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func printAdmins(w io.Writer, admins []model.Admin, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(admins)
	}

	if len(admins) == 0 {
		fmt.Fprintln(w, "No admin accounts. Use 'portal admin bootstrap' to create the first one.")
		return nil
	}

	fmt.Fprintf(w, "%-5s %-30s %-20s %-12s %-7s %s\n", "ID", "EMAIL", "USERNAME", "ROLE", "ACTIVE", "PERMISSIONS")
	for _, a := range admins {
		active := "yes"
		if !a.IsActive {
			active = "no"
		}
		perms := make([]string, len(a.Permissions))
		for i, p := range a.Permissions {
			perms[i] = string(p)
		}
		fmt.Fprintf(w, "%-5d %-30s %-20s %-12s %-7s %s\n", a.ID, a.Email, a.Username, a.Role, active, strings.Join(perms, ","))
	}
	return nil
}

// ---------- admin unlock ----------

func newAdminUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <id>",
		Short: "Clear an account's failed login counter and lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAdminID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, store *config.Store) error {
				if err := store.ResetLockout(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Unlocked admin %d\n", id)
				return nil
			})
		},
	}
}

// ---------- admin activate / deactivate ----------

func newAdminSetActiveCmd(use string, active bool) *cobra.Command {
	short := "Deactivate an admin account"
	if active {
		short = "Reactivate an admin account"
	}
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAdminID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, store *config.Store) error {
				admin, err := store.GetAdmin(ctx, id)
				if err != nil {
					return err
				}
				admin.IsActive = active
				if err := store.SaveAdmin(ctx, admin); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Admin %d (%s) active=%t\n", admin.ID, admin.Email, admin.IsActive)
				return nil
			})
		},
	}
}
