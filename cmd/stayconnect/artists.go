package main

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"stayconnect/internal/app"
	"stayconnect/internal/jobs"
	"stayconnect/internal/storage"
)

var artistsCmd = &cobra.Command{
	Use:   "artists",
	Short: "Manage tracked artists",
}

var artistsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Track an artist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		name, _ := cmd.Flags().GetString("name")
		catalogID, _ := cmd.Flags().GetString("catalog-id")
		sync, _ := cmd.Flags().GetBool("sync")
		if strings.TrimSpace(name) == "" {
			return errors.New("--name is required")
		}

		a, err := app.New(cfgPath)
		if err != nil {
			return err
		}
		defer a.Close()

		artist, err := a.Store().CreateArtist(cmd.Context(), storage.Artist{Name: strings.TrimSpace(name), CatalogID: strings.TrimSpace(catalogID)})
		if errors.Is(err, storage.ErrConflict) {
			return errors.WithHint(err, "an artist with this catalog id is already tracked")
		}
		if err != nil {
			return err
		}
		pterm.Success.Printf("Added %s (%s)\n", artist.Name, artist.ID)

		if !sync || artist.CatalogID == "" {
			return nil
		}
		stats, err := a.Artists().Run(cmd.Context(), jobs.SyncOptions{ArtistID: artist.ID, Force: true})
		if err != nil {
			pterm.Warning.Printf("catalog sync failed: %v\n", err)
			return nil
		}
		pterm.Info.Printf("Synced: %s\n", stats)
		return nil
	},
}

var artistsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked artists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		a, err := app.New(cfgPath)
		if err != nil {
			return err
		}
		defer a.Close()

		artists, err := a.Store().ListArtists(cmd.Context())
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(artists)
		}
		if len(artists) == 0 {
			pterm.Info.Println("No artists tracked")
			return nil
		}

		data := pterm.TableData{{"ID", "Name", "Catalog ID", "Followers", "Last check"}}
		for _, ar := range artists {
			checked := ar.LastCatalogCheck
			data = append(data, []string{
				ar.ID,
				ar.Name,
				orDash(ar.CatalogID),
				humanize.Comma(int64(ar.Followers)),
				ago(&checked),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

func init() {
	artistsAddCmd.Flags().String("name", "", "display name")
	artistsAddCmd.Flags().String("catalog-id", "", "Spotify artist id (see catalog search)")
	artistsAddCmd.Flags().Bool("sync", false, "fetch followers and picture right away")
	artistsListCmd.Flags().Bool("json", false, "print raw JSON")
	artistsCmd.AddCommand(artistsAddCmd, artistsListCmd)
}
