package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nainya/docsession/pkg/bookmark"
)

var (
	addPage   int
	addOffset float64
	addLabel  string

	recentSort string
)

// bookmarkView is the printed form of a bookmark; pages are 1-based
type bookmarkView struct {
	ID       string    `yaml:"id" json:"id"`
	Document string    `yaml:"document" json:"document"`
	Kind     string    `yaml:"kind" json:"kind"`
	Page     int       `yaml:"page" json:"page"`
	Offset   float64   `yaml:"offset" json:"offset"`
	Label    string    `yaml:"label,omitempty" json:"label,omitempty"`
	Version  uint64    `yaml:"version" json:"version"`
	Updated  time.Time `yaml:"updated" json:"updated"`
}

func viewOf(b bookmark.Bookmark) bookmarkView {
	return bookmarkView{
		ID:       b.ID,
		Document: b.DocumentID,
		Kind:     b.Kind.String(),
		Page:     b.Page + 1,
		Offset:   b.Offset,
		Label:    b.Label,
		Version:  b.Version,
		Updated:  b.UpdatedAt,
	}
}

func viewsOf(bs []bookmark.Bookmark) []bookmarkView {
	out := make([]bookmarkView, len(bs))
	for i, b := range bs {
		out[i] = viewOf(b)
	}
	return out
}

var bookmarksCmd = &cobra.Command{
	Use:     "bookmarks",
	Aliases: []string{"bm"},
	Short:   "Manage bookmarks and reading positions",
}

var bookmarksListCmd = &cobra.Command{
	Use:   "list <pdf>",
	Short: "List the bookmarks of a document, reading position first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docID, err := fingerprintFile(args[0])
		if err != nil {
			return err
		}
		store, err := env.openStore()
		if err != nil {
			return err
		}
		bs, err := store.Load(docID)
		if err != nil {
			return err
		}
		return output(viewsOf(bs))
	},
}

var bookmarksAddCmd = &cobra.Command{
	Use:   "add <pdf>",
	Short: "Add a bookmark",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docID, err := fingerprintFile(args[0])
		if err != nil {
			return err
		}
		store, err := env.openStore()
		if err != nil {
			return err
		}
		b, err := store.Upsert(cmd.Context(), bookmark.Bookmark{
			DocumentID: docID,
			Page:       addPage - 1,
			Offset:     addOffset,
			Label:      addLabel,
			Kind:       bookmark.User,
		})
		if err != nil {
			return err
		}
		return output(viewOf(b))
	},
}

var bookmarksDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a bookmark",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := env.openStore()
		if err != nil {
			return err
		}
		if err := store.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

var bookmarksRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List read documents with their reading positions and titles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := env.openStore()
		if err != nil {
			return err
		}
		order, err := bookmark.ParseSortOrder(recentSort)
		if err != nil {
			return err
		}
		bs, err := store.DocumentsBy(order)
		if err != nil {
			return err
		}
		return output(viewsOf(bs))
	},
}

var bookmarksCompactCmd = &cobra.Command{
	Use:   "compact <pdf>",
	Short: "Rewrite a document's bookmark log without superseded records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docID, err := fingerprintFile(args[0])
		if err != nil {
			return err
		}
		store, err := env.openStore()
		if err != nil {
			return err
		}
		return store.Compact(docID)
	},
}

var bookmarksWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print bookmarks as other processes change them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := env.openStore()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		err = store.Watch(ctx, func(docID string) {
			bs, err := store.Load(docID)
			if err != nil {
				env.log.Warn("reload failed").Str("document", docID).Err(err).Send()
				return
			}
			if err := output(viewsOf(bs)); err != nil {
				env.log.Warn("print failed").Err(err).Send()
			}
		})
		if err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	},
}

func init() {
	bookmarksAddCmd.Flags().IntVar(&addPage, "page", 1, "page (1-based)")
	bookmarksAddCmd.Flags().Float64Var(&addOffset, "offset", 0, "position within the page in [0,1)")
	bookmarksAddCmd.Flags().StringVar(&addLabel, "label", "", "bookmark label")
	bookmarksRecentCmd.Flags().StringVar(&recentSort, "sort", "newest", "order: newest, oldest, title, title-desc")

	bookmarksCmd.AddCommand(
		bookmarksListCmd,
		bookmarksAddCmd,
		bookmarksDeleteCmd,
		bookmarksRecentCmd,
		bookmarksCompactCmd,
		bookmarksWatchCmd,
	)
}
