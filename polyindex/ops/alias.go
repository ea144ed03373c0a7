package ops

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/polyindex/polyindex/polyindex/engine"
	perrors "github.com/polyindex/polyindex/polyindex/errors"
)

// Cutover describes one alias repointed by SwapAliases.
type Cutover struct {
	Alias    string
	Index    string
	Previous []string
}

// SwapAliases points every family's stable alias at its suffix generation. Each
// alias moves in a single engine call carrying its removes and its add, so a
// reader sees either the old target or the new one.
func SwapAliases(ctx context.Context, env Env, suffix string) ([]Cutover, error) {
	env = env.withDefaults()
	if suffix == "" {
		return nil, perrors.NewError(perrors.ErrAlias, "swap-aliases requires a suffix")
	}
	current, err := env.Engine.GetAliases(ctx)
	if err != nil {
		return nil, perrors.Wrap(perrors.ErrEngine, "get aliases", err)
	}

	var out []Cutover
	for _, root := range env.Registry.Roots() {
		alias := env.Naming.Index(root)
		target := env.Naming.Generation(root, suffix)
		if _, ok := current[target]; !ok {
			return out, perrors.NotFoundError(fmt.Sprintf("index %s; run synces %s first", target, suffix))
		}

		c := Cutover{Alias: alias, Index: target}
		var actions []engine.AliasAction
		for index, names := range current {
			if index == target {
				continue
			}
			for _, n := range names {
				if n == alias {
					c.Previous = append(c.Previous, index)
				}
			}
		}
		sort.Strings(c.Previous)
		for _, prev := range c.Previous {
			actions = append(actions, engine.RemoveAlias(prev, alias))
		}
		actions = append(actions, engine.AddAlias(target, alias))

		if err := env.Engine.UpdateAliases(ctx, actions); err != nil {
			return out, perrors.Wrap(perrors.ErrAlias, "repoint "+alias, err)
		}
		env.Logger.Info("alias swapped",
			zap.String("alias", alias),
			zap.String("index", target),
			zap.Strings("previous", c.Previous))
		out = append(out, c)
	}
	return out, nil
}
