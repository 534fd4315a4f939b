package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
	Server    string `json:"server,omitempty"`
}

func NewVersionCmd() *cobra.Command {
	var withServer bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the version of the scanchain CLI and, with --server, the API server it talks to.",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionInfo{
				Version:   GetVersion(),
				Commit:    GetCommit(),
				BuildDate: BuildDate,
				GoVersion: GetGoVersion(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			if withServer {
				health, err := GetClient().Health()
				if err != nil {
					info.Server = "unreachable"
				} else {
					info.Server = health.Version
				}
			}

			if jsonOutput() {
				return printJSON(info)
			}

			fields := [][2]string{
				{"Version", info.Version},
				{"Commit", info.Commit},
				{"Build Date", info.BuildDate},
				{"Go Version", info.GoVersion},
				{"OS/Arch", info.Platform},
			}
			if info.Server != "" {
				fields = append(fields, [2]string{"Server", info.Server})
			}
			fmt.Println(StatusBox("ScanChain CLI", fields))
			return nil
		},
	}

	cmd.Flags().BoolVar(&withServer, "server", false, "Also query the API server version")
	return cmd
}
