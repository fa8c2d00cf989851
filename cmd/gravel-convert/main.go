// Command gravel-convert builds gravel on-disk artifacts:
//
//	gravel-convert el2g [-d] <edge_list> <graph_out> <index_out>
//	gravel-convert el2m [-b block] <edge_list> <matrix_out> <matrix_index_out>
//
// Edge lists are "src dst" pairs, one per line; .zst and .lz4 inputs
// are decompressed transparently.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/spf13/cobra"

	"github.com/hupe1980/gravel/graphfile"
	"github.com/hupe1980/gravel/matrix"
)

func main() {
	root := &cobra.Command{
		Use:           "gravel-convert",
		Short:         "Build gravel graph and matrix files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var directed bool
	el2g := &cobra.Command{
		Use:   "el2g <edge_list> <graph_out> <index_out>",
		Short: "Convert an edge list to a graph file and vertex index",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := readEdgeList(args[0], directed)
			if err != nil {
				return err
			}
			if err := graphfile.WriteGraph(nil, args[1], args[2], g); err != nil {
				return err
			}
			fmt.Printf("wrote %d vertices to %s\n", g.NumVertices(), args[1])
			return nil
		},
	}
	el2g.Flags().BoolVarP(&directed, "directed", "d", false, "treat edges as directed")

	var block uint32
	el2m := &cobra.Command{
		Use:   "el2m <edge_list> <matrix_out> <matrix_index_out>",
		Short: "Convert an edge list to a 2D-partitioned sparse matrix",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := readEdgeList(args[0], true)
			if err != nil {
				return err
			}
			coo := matrix.FromMemGraph(g)
			if err := matrix.WriteMatrix(nil, args[1], args[2], coo, block, block); err != nil {
				return err
			}
			fmt.Printf("wrote %dx%d matrix (%d nonzeros) to %s\n",
				coo.Rows, coo.Cols, len(coo.Entries), args[1])
			return nil
		},
	}
	el2m.Flags().Uint32VarP(&block, "block", "b", 1024, "block height and width")

	root.AddCommand(el2g, el2m)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gravel-convert:", err)
		os.Exit(1)
	}
}

// openEdgeList opens a possibly compressed edge list.
func openEdgeList(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return readCloser{Reader: zr, close: func() error {
			zr.Close()
			return f.Close()
		}}, nil
	case strings.HasSuffix(path, ".lz4"):
		return readCloser{Reader: lz4.NewReader(f), close: f.Close}, nil
	default:
		return f, nil
	}
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r readCloser) Close() error { return r.close() }

// readEdgeList parses "src dst" lines into an in-memory graph. For
// undirected graphs each edge lands in both endpoint lists; a self-loop
// is stored once.
func readEdgeList(path string, directed bool) (*graphfile.MemGraph, error) {
	r, err := openEdgeList(path)
	if err != nil {
		return nil, fmt.Errorf("open edge list %s: %w", path, err)
	}
	defer r.Close()

	g := &graphfile.MemGraph{Directed: directed}
	grow := func(id graphfile.VertexID) {
		for uint32(len(g.Out)) <= uint32(id) {
			g.Out = append(g.Out, nil)
			if directed {
				g.In = append(g.In, nil)
			}
		}
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, fmt.Errorf("edge list %s line %d: want \"src dst\", got %q", path, line, text)
		}
		src64, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("edge list %s line %d: %w", path, line, err)
		}
		dst64, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("edge list %s line %d: %w", path, line, err)
		}
		src, dst := graphfile.VertexID(src64), graphfile.VertexID(dst64)
		grow(src)
		grow(dst)

		if directed {
			g.Out[src] = append(g.Out[src], dst)
			g.In[dst] = append(g.In[dst], src)
		} else {
			g.Out[src] = append(g.Out[src], dst)
			if src != dst {
				g.Out[dst] = append(g.Out[dst], src)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read edge list %s: %w", path, err)
	}
	return g, nil
}
