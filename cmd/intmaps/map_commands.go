package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/standardbeagle/intmaps/internal/durable"
	"github.com/standardbeagle/intmaps/internal/ehmap"

	"github.com/urfave/cli/v2"
)

// Pair is one key/value entry in dump output
type Pair struct {
	Key   int32 `json:"key"`
	Value int32 `json:"value"`
}

// parseInt32Args parses exactly want positional int32 arguments
func parseInt32Args(c *cli.Context, want int) ([]int32, error) {
	if c.NArg() != want {
		return nil, fmt.Errorf("%s expects %d arguments (%s), got %d", c.Command.Name, want, c.Command.ArgsUsage, c.NArg())
	}
	values := make([]int32, want)
	for i := range values {
		v, err := strconv.ParseInt(c.Args().Get(i), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		values[i] = int32(v)
	}
	return values, nil
}

func putCommand(c *cli.Context) error {
	args, err := parseInt32Args(c, 2)
	if err != nil {
		return err
	}
	return withMap(c, func(m *ehmap.Map) error {
		added, err := m.Put(args[0], args[1])
		if err != nil {
			return err
		}
		if added {
			fmt.Fprintf(c.App.Writer, "added %d -> %d\n", args[0], args[1])
		} else {
			fmt.Fprintf(c.App.Writer, "%d -> %d already present\n", args[0], args[1])
		}
		return nil
	})
}

func getCommand(c *cli.Context) error {
	args, err := parseInt32Args(c, 1)
	if err != nil {
		return err
	}
	return withMap(c, func(m *ehmap.Map) error {
		values, err := valuesOf(m, args[0])
		if err != nil {
			return err
		}
		for _, v := range values {
			fmt.Fprintln(c.App.Writer, v)
		}
		return nil
	})
}

// valuesOf collects every value of key with an acceptor that never accepts
func valuesOf(m durable.Map, key int32) ([]int32, error) {
	var values []int32
	_, err := m.Lookup(key, func(value int32) (bool, error) {
		values = append(values, value)
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return values, nil
}

func removeCommand(c *cli.Context) error {
	args, err := parseInt32Args(c, 2)
	if err != nil {
		return err
	}
	return withMap(c, func(m *ehmap.Map) error {
		removed, err := m.Remove(args[0], args[1])
		if err != nil {
			return err
		}
		if removed {
			fmt.Fprintf(c.App.Writer, "removed %d -> %d\n", args[0], args[1])
		} else {
			fmt.Fprintf(c.App.Writer, "%d -> %d not found\n", args[0], args[1])
		}
		return nil
	})
}

func replaceCommand(c *cli.Context) error {
	args, err := parseInt32Args(c, 3)
	if err != nil {
		return err
	}
	return withMap(c, func(m *ehmap.Map) error {
		replaced, err := m.Replace(args[0], args[1], args[2])
		if err != nil {
			return err
		}
		if replaced {
			fmt.Fprintf(c.App.Writer, "replaced %d -> %d with %d -> %d\n", args[0], args[1], args[0], args[2])
		} else {
			fmt.Fprintf(c.App.Writer, "%d -> %d not found\n", args[0], args[1])
		}
		return nil
	})
}

func dumpCommand(c *cli.Context) error {
	return withMap(c, func(m *ehmap.Map) error {
		var pairs []Pair
		if _, err := m.ForEach(func(key, value int32) (bool, error) {
			pairs = append(pairs, Pair{Key: key, Value: value})
			return true, nil
		}); err != nil {
			return err
		}
		sort.Slice(pairs, func(i, j int) bool {
			if pairs[i].Key != pairs[j].Key {
				return pairs[i].Key < pairs[j].Key
			}
			return pairs[i].Value < pairs[j].Value
		})

		if c.Bool("json") {
			if pairs == nil {
				pairs = []Pair{}
			}
			encoder := json.NewEncoder(c.App.Writer)
			encoder.SetIndent("", "  ")
			return encoder.Encode(pairs)
		}
		for _, p := range pairs {
			fmt.Fprintf(c.App.Writer, "%d\t%d\n", p.Key, p.Value)
		}
		return nil
	})
}

func clearCommand(c *cli.Context) error {
	return withMap(c, func(m *ehmap.Map) error {
		size, err := m.Size()
		if err != nil {
			return err
		}
		if err := m.Clear(); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "cleared %d pairs\n", size)
		return nil
	})
}
