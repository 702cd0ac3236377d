package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zmcp/odata-codec/internal/event"
	"github.com/zmcp/odata-codec/internal/segment"
	"github.com/zmcp/odata-codec/internal/writer"
)

var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Write stored entities as an OData JSON response",
	Long: `Write stored entities as an OData JSON response: one entry when --key is
given, otherwise a feed of the entity set.

Expansions nest with '/': --expand Products/Category expands Products and,
inside each product, its Category. Append '/$ref' to write reference links
instead of the related entries.`,
	Args: cobra.NoArgs,
	RunE: runEncode,
}

func init() {
	encodeCmd.Flags().String("set", "", "Entity set to write")
	encodeCmd.Flags().String("key", "", "Key of a single entity, as in an edit link: 5 or A=1,B='x'")
	encodeCmd.Flags().String("expand", "", "Comma-separated navigation properties to expand")
	encodeCmd.Flags().String("select", "", "Comma-separated properties to write")
	encodeCmd.Flags().Bool("count", false, "Write @odata.count on a feed")
	encodeCmd.Flags().String("skiptoken", "", "Continue a feed after the entity with this key")
	encodeCmd.Flags().String("ref", "", "Write the reference links of this navigation property of --key")
	encodeCmd.MarkFlagRequired("set")
}

// parseExpand builds the projection tree for comma-separated expand paths
// and top-level select names
func parseExpand(expand, selection string, count bool) *writer.ExpandNode {
	root := &writer.ExpandNode{Count: count}
	if selection != "" {
		for _, name := range strings.Split(selection, ",") {
			if name = strings.TrimSpace(name); name != "" {
				root.Select = append(root.Select, name)
			}
		}
	}
	for _, path := range strings.Split(expand, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		node := root
		for _, name := range strings.Split(path, "/") {
			if name == "$ref" {
				node.Ref = true
				break
			}
			if node.Expand == nil {
				node.Expand = make(map[string]*writer.ExpandNode)
			}
			child, ok := node.Expand[name]
			if !ok {
				child = &writer.ExpandNode{}
				node.Expand[name] = child
			}
			node = child
		}
	}
	return root
}

func runEncode(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	loads, _ := rootCmd.PersistentFlags().GetStringArray("load")
	if err := s.preload(ctx, loads); err != nil {
		return err
	}

	setName, _ := cmd.Flags().GetString("set")
	keyText, _ := cmd.Flags().GetString("key")
	expand, _ := cmd.Flags().GetString("expand")
	selection, _ := cmd.Flags().GetString("select")
	count, _ := cmd.Flags().GetBool("count")
	skipToken, _ := cmd.Flags().GetString("skiptoken")
	refNav, _ := cmd.Flags().GetString("ref")

	target, err := s.target(setName, keyText)
	if err != nil {
		return err
	}
	opts, err := s.writerOptions()
	if err != nil {
		return err
	}
	out := event.NewJSONWriter(os.Stdout, event.JSONWriterOptions{Indent: true})
	ser := writer.New(s.provider, s.store, out, opts)
	verbosef("Writing %s with %s", target, ser.Interpreter().ContentType())

	switch {
	case refNav != "":
		if keyText == "" {
			return fmt.Errorf("--ref needs --key")
		}
		entity, err := s.store.GetResource(setName, target.Key(), "")
		if err != nil {
			return err
		}
		nav, ok := s.provider.FindNavigationProperty(target.TargetType(), refNav)
		if !ok {
			return fmt.Errorf("%s has no navigation property %s", target.TargetType().FullName(), refNav)
		}
		related, err := s.store.Related(entity, refNav)
		if err != nil {
			return err
		}
		link := segment.New(segment.TargetLink, segment.Options{
			TargetType: target.TargetType(),
			Container:  target.TargetContainer(),
			Navigation: nav,
			Identifier: refNav,
			Key:        target.Key(),
			RequestURI: target.RequestURI() + "/" + refNav + "/$ref",
		})
		err = ser.WriteReferenceLinks(ctx, link, related)
		if err != nil {
			return err
		}

	case keyText != "":
		entity, err := s.store.GetResource(setName, target.Key(), "")
		if err != nil {
			return err
		}
		if err := ser.WriteEntry(ctx, target, entity, parseExpand(expand, selection, false)); err != nil {
			return err
		}

	default:
		page, err := s.store.Page(setName, skipToken, s.cfg.PageSize)
		if err != nil {
			return err
		}
		if err := ser.WriteFeed(ctx, target, page, parseExpand(expand, selection, count)); err != nil {
			return err
		}
		color.New(color.FgCyan).Fprintf(os.Stderr, "%d entries written\n", page.Len())
	}
	fmt.Fprintln(os.Stdout)
	return nil
}
