package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"stayconnect/internal/app"
	logx "stayconnect/pkg/logx"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Query the Spotify catalog",
}

var catalogSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search artists by name",
	Long: `Search the catalog for artists. The ID column is what "artists add
--catalog-id" expects.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		verbose, _ := cmd.Flags().GetBool("verbose")
		log := logx.Nop()
		if verbose {
			log = logx.NewConsole("debug")
		}
		cat, err := app.NewCatalog(cfg, log)
		if err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		artists, err := cat.SearchArtists(cmd.Context(), strings.Join(args, " "), limit)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(artists)
		}
		if len(artists) == 0 {
			pterm.Info.Println("No artists found")
			return nil
		}

		data := pterm.TableData{{"ID", "Name", "Followers", "Popularity", "Genres"}}
		for _, a := range artists {
			data = append(data, []string{
				a.ID,
				a.Name,
				humanize.Comma(int64(a.Followers.Total)),
				fmt.Sprintf("%d", a.Popularity),
				truncate(orDash(strings.Join(a.Genres, ", ")), 40),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

func init() {
	catalogSearchCmd.Flags().IntP("limit", "n", 10, "max results (1-50)")
	catalogSearchCmd.Flags().Bool("json", false, "print raw JSON")
	catalogSearchCmd.Flags().BoolP("verbose", "v", false, "log catalog requests")
	catalogCmd.AddCommand(catalogSearchCmd)
}
