package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"gridmap/internal/config"
	"gridmap/internal/grid"
	"gridmap/internal/handlers/tileserver"
)

// parsePosition reads a world position written as "x,y" in meters
func parsePosition(s string) (grid.GlobalPosition, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return grid.GlobalPosition{}, fmt.Errorf("invalid position %q (want x,y)", s)
	}
	x, errX := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if errX != nil || errY != nil {
		return grid.GlobalPosition{}, fmt.Errorf("invalid position %q (want x,y)", s)
	}
	return grid.GlobalPosition{X: x, Y: y}, nil
}

// parseSize reads an image size written as "WxH"
func parseSize(s string) (width, height int, err error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q (want WxH)", s)
	}
	width, errW := strconv.Atoi(ws)
	height, errH := strconv.Atoi(hs)
	if errW != nil || errH != nil || width <= 0 || height <= 0 || width > tileserver.MaxFrameEdge || height > tileserver.MaxFrameEdge {
		return 0, 0, fmt.Errorf("invalid size %q (each side 1 to %d)", s, tileserver.MaxFrameEdge)
	}
	return width, height, nil
}

// restoreCenter centers the map on the last saved position, if any
func (a *App) restoreCenter() bool {
	a.mu.Lock()
	pos, ok := a.settings.LastCenter()
	a.mu.Unlock()
	if ok {
		a.session.CenterAt(pos)
	}
	return ok
}

func snapshotCmd(globals func() AppOptions) *cobra.Command {
	var (
		center, self, size, out string
		zoom                    float64
		timeout                 time.Duration
		noDiskCache, quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Render the map around a position to an image with a world file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			width, height, err := parseSize(size)
			if err != nil {
				return err
			}

			opts := globals()
			opts.NoDiskCache = noDiskCache
			if self != "" {
				pos, err := parsePosition(self)
				if err != nil {
					return err
				}
				opts.Self = &pos
			}

			snap := SnapshotOptions{
				Zoom:     zoom,
				Width:    width,
				Height:   height,
				Out:      out,
				Timeout:  timeout,
				Progress: !quiet,
			}
			if center != "" {
				pos, err := parsePosition(center)
				if err != nil {
					return err
				}
				snap.Center = &pos
			}

			app, err := NewApp(opts)
			if err != nil {
				return err
			}
			defer app.Shutdown()
			app.startup()
			if snap.Center == nil {
				app.restoreCenter()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path, err := app.Snapshot(ctx, snap)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().StringVar(&center, "center", "", "map center in world meters, x,y (default: last saved position)")
	cmd.Flags().Float64Var(&zoom, "zoom", 0, "meters per pixel (default: from settings)")
	cmd.Flags().StringVar(&size, "size", "1024x768", "image size, WxH")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file or directory (default: snapshot directory)")
	cmd.Flags().StringVar(&self, "self", "", "draw the self marker at a world position, x,y")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "give up when tiles take longer than this")
	cmd.Flags().BoolVar(&noDiskCache, "no-disk-cache", false, "do not read or write the disk cache")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "no progress bar")
	return cmd
}

func serveCmd(globals func() AppOptions) *cobra.Command {
	var addr, self, center string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve map frames, tiles and view controls over local HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := globals()
			if self != "" {
				pos, err := parsePosition(self)
				if err != nil {
					return err
				}
				opts.Self = &pos
			}

			app, err := NewApp(opts)
			if err != nil {
				return err
			}
			defer app.Shutdown()
			app.startup()

			if center != "" {
				pos, err := parsePosition(center)
				if err != nil {
					return err
				}
				app.session.CenterAt(pos)
			} else if opts.Self != nil {
				app.session.CenterAt(*opts.Self)
			} else {
				app.restoreCenter()
			}

			srv, err := tileserver.NewServer(app.Session(), app.tiles, app.Stats, tileserver.Options{
				DevMode:      app.devMode,
				EncodedTiles: app.GetSettings().Cache.EncodedTiles,
			})
			if err != nil {
				return err
			}
			if err := srv.Start(addr); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Serving map at %s/frame.png\n", srv.URL())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			log.Printf("Shutting down...")
			if app.session.Centered() {
				if err := app.SaveMapPosition(); err != nil {
					log.Printf("Failed to save map position: %v", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8765", "listen address")
	cmd.Flags().StringVar(&center, "center", "", "initial map center in world meters, x,y")
	cmd.Flags().StringVar(&self, "self", "", "draw the self marker at a world position, x,y")
	return cmd
}

func settingsCmd(globals func() AppOptions) *cobra.Command {
	path := func() string {
		if p := globals().SettingsPath; p != "" {
			return p
		}
		return config.GetSettingsPath()
	}

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show and edit settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := config.LoadSettings(path())
			if err != nil {
				return err
			}
			text, err := formatSettings(s)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the settings file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), path())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write default settings, keeping an existing file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := path()
			if _, err := os.Stat(p); err == nil {
				return fmt.Errorf("settings already exist at %s", p)
			}
			if err := config.SaveSettings(p, config.DefaultSettings()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the settings file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := config.LoadSettings(path())
			if err != nil {
				return err
			}
			if err := s.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting, e.g. zoom 2 or cache.maxSizeMB 500",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := path()
			s, err := config.LoadSettings(p)
			if err != nil {
				return err
			}
			updated, err := setSetting(s, args[0], args[1])
			if err != nil {
				return err
			}
			return config.SaveSettings(p, updated)
		},
	})

	return cmd
}

func cacheCmd(globals func() AppOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the disk tile cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print disk cache statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := NewApp(globals())
			if err != nil {
				return err
			}
			defer app.Shutdown()

			data, err := json.MarshalIndent(app.GetCacheStats(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every cached tile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := NewApp(globals())
			if err != nil {
				return err
			}
			defer app.Shutdown()

			if err := app.ClearCache(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
			return nil
		},
	})

	return cmd
}
