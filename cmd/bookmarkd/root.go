package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "bookmarkd",
	Short: "Bookmark sync server",
	Long: `bookmarkd is a multi-user bookmark synchronization server.

It stores each user's bookmark tree in an embedded SQLite database and
keeps connected clients in sync through a WebSocket channel alongside a
REST API. Mutations are versioned per row and journaled per user, so
clients can catch up incrementally after going offline.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default searches ./bookmarkd.yaml, /etc/bookmarkd)")
	rootCmd.AddCommand(serveCmd)
}
