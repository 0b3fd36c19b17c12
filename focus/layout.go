package focus

import "github.com/opd-ai/roomcall/participant"

// Layout is the tile arrangement handed to the rendering layer.
type Layout struct {
	Primary   participant.ID
	Secondary []participant.ID
}

// Arrange places the target in the primary tile and every other known
// participant in the secondary list: local first, then remotes in the given
// order. A target missing from remotes falls back to the local participant.
func Arrange(s State, remotes []participant.ID) Layout {
	primary := participant.Local
	for _, id := range remotes {
		if id == s.Target {
			primary = id
			break
		}
	}

	layout := Layout{
		Primary:   primary,
		Secondary: make([]participant.ID, 0, len(remotes)),
	}
	if primary != participant.Local {
		layout.Secondary = append(layout.Secondary, participant.Local)
	}

	seen := map[participant.ID]bool{primary: true, participant.Local: true}
	for _, id := range remotes {
		if seen[id] {
			continue
		}
		seen[id] = true
		layout.Secondary = append(layout.Secondary, id)
	}
	return layout
}

// Contains reports whether id appears anywhere in the layout.
func (l Layout) Contains(id participant.ID) bool {
	if l.Primary == id {
		return true
	}
	for _, s := range l.Secondary {
		if s == id {
			return true
		}
	}
	return false
}
