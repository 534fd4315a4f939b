package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/scanchain/scanchain/internal/client"
)

// NewLoginCmd creates the login command.
func NewLoginCmd() *cobra.Command {
	var (
		email    string
		demoRole string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to a ScanChain server",
		Long: `Log in and save the session token for later commands.

The password is read from SCANCHAIN_PASSWORD or prompted for without echo.
Servers started with demo accounts also accept --demo manufacturer|supplier.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.NewAPIClient(GetAPIEndpoint(), "")

			var (
				resp *client.LoginResponse
				err  error
			)
			if demoRole != "" {
				resp, err = c.DemoLogin(demoRole)
			} else {
				if email == "" {
					email, err = promptLine("Email: ")
					if err != nil {
						return err
					}
				}
				password := os.Getenv("SCANCHAIN_PASSWORD")
				if password == "" {
					fmt.Fprint(os.Stderr, "Password: ")
					password, err = readPasswordNoEcho()
					fmt.Fprintln(os.Stderr)
					if err != nil {
						return fmt.Errorf("failed to read password: %w", err)
					}
				}
				resp, err = c.Login(email, password)
			}
			if err != nil {
				return describeError(err)
			}

			err = saveSession(&session{
				Endpoint:  c.BaseURL(),
				Token:     resp.Token,
				Email:     resp.User.Email,
				Role:      resp.User.Role,
				CreatedAt: time.Now(),
			})
			if err != nil {
				return fmt.Errorf("failed to save session: %w", err)
			}

			if jsonOutput() {
				return printJSON(resp.User)
			}
			Success(fmt.Sprintf("Logged in as %s (%s)", resp.User.Username, resp.User.Role))
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVar(&demoRole, "demo", "", "Log in as a demo account (manufacturer or supplier)")
	return cmd
}

// NewLogoutCmd creates the logout command.
func NewLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := GetClient()
			if c.Token() != "" {
				if err := c.Logout(); err != nil {
					Warning(fmt.Sprintf("Server logout failed: %v", describeError(err)))
				}
			}
			if err := clearSession(); err != nil {
				return err
			}
			Success("Logged out")
			return nil
		},
	}
}

// NewRegisterCmd creates the account registration command.
func NewRegisterCmd() *cobra.Command {
	var req client.RegisterRequest

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Long: `Create an account on the server. Roles are manufacturer, supplier and
user; only manufacturers and admins can upload documents.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Password == "" {
				fmt.Fprint(os.Stderr, "Password: ")
				pw, err := readPasswordNoEcho()
				fmt.Fprintln(os.Stderr)
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
				req.Password = pw
			}

			user, err := GetClient().Register(&req)
			if err != nil {
				return describeError(err)
			}

			if jsonOutput() {
				return printJSON(user)
			}
			Success("Account created")
			fmt.Println(StatusBox("Account", [][2]string{
				{"ID", user.ID},
				{"Email", user.Email},
				{"Username", user.Username},
				{"Role", user.Role},
			}))
			fmt.Println(Hint("Next: scanchain login -e " + user.Email))
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.Email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&req.Username, "username", "u", "", "Username")
	cmd.Flags().StringVar(&req.FullName, "name", "", "Full name")
	cmd.Flags().StringVar(&req.CompanyName, "company", "", "Company name")
	cmd.Flags().StringVar(&req.Role, "role", "user", "Account role")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("name")
	return cmd
}

// NewWhoamiCmd shows the saved session.
func NewWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSession()
			if err != nil {
				Info("Not logged in")
				fmt.Println(Hint("Log in with: scanchain login"))
				return nil
			}
			if jsonOutput() {
				return printJSON(map[string]any{
					"endpoint":  s.Endpoint,
					"email":     s.Email,
					"role":      s.Role,
					"createdAt": s.CreatedAt,
				})
			}
			fmt.Println(StatusBox("Session", [][2]string{
				{"Endpoint", s.Endpoint},
				{"Email", s.Email},
				{"Role", s.Role},
				{"Since", formatTime(s.CreatedAt)},
			}))
			return nil
		},
	}
}

func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
