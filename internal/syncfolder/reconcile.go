package syncfolder

import (
	"context"

	"github.com/parlorsh/parlor/internal/folder"
	"github.com/parlorsh/parlor/internal/imapsession"
)

// reconcileFolders runs the CheckingFolders phase: LIST the account, map
// each mailbox's attributes, resolve SPECIAL-USE duplicates across the
// whole list, then insert new folders, refresh existing ones, and mark
// folders absent from this LIST as missing.
func (s *Synchronizer) reconcileFolders(ctx context.Context, accountID string, sess *imapsession.Session) ([]*folder.Folder, error) {
	listed, err := sess.List(ctx, "", "*")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(listed))
	byFullName := make(map[string][]folder.Attr, len(listed))
	for _, mb := range listed {
		attrs := imapsession.ClassifyAttrs(mb.Attrs)
		if !imapsession.HasSpecialUse(attrs) {
			if guessed, ok := imapsession.GuessAttrByName(lastSegment(mb.Name, mb.Delimiter)); ok {
				attrs = append(attrs, guessed)
			}
		}
		byFullName[mb.Name] = attrs
	}
	demoteDuplicateSpecialUse(byFullName)

	existing, err := s.folders.List(accountID)
	if err != nil {
		return nil, err
	}
	existingByName := make(map[string]*folder.Folder, len(existing))
	for _, f := range existing {
		existingByName[f.FullName] = f
	}

	var out []*folder.Folder
	for _, mb := range listed {
		seen[mb.Name] = true
		attrs := byFullName[mb.Name]

		f, ok := existingByName[mb.Name]
		if !ok {
			f = &folder.Folder{
				AccountID: accountID,
				Name:      lastSegment(mb.Name, mb.Delimiter),
				FullName:  mb.Name,
				Delimiter: mb.Delimiter,
				Attrs:     attrs,
			}
			if err := s.folders.Create(f); err != nil {
				return nil, err
			}
		} else {
			f.Delimiter = mb.Delimiter
			f.Attrs = attrs
			if err := s.folders.UpdateAttrs(f); err != nil {
				return nil, err
			}
			if err := s.folders.MarkSeen(f.ID); err != nil {
				return nil, err
			}
		}
		out = append(out, f)
	}

	for _, f := range existing {
		if !seen[f.FullName] {
			if err := s.folders.MarkMissing(f.ID); err != nil {
				return nil, err
			}
		}
	}
	if _, err := s.folders.CollectDead(accountID); err != nil {
		return nil, err
	}

	return out, nil
}

// demoteDuplicateSpecialUse enforces "at most one folder per special-use
// kind": when LIST reports the same special-use attribute (e.g. \Sent) on
// more than one mailbox, every occurrence past the first (by full name,
// so the choice is deterministic across runs) is demoted to a plain
// folder. This is the cross-list pass imapsession.ClassifyAttrs defers,
// since it can only see one mailbox at a time.
func demoteDuplicateSpecialUse(byFullName map[string][]folder.Attr) {
	claimed := make(map[folder.Attr]string)
	names := sortedKeys(byFullName)

	for _, name := range names {
		attrs := byFullName[name]
		kept := attrs[:0]
		for _, a := range attrs {
			if !isSpecialUseAttr(a) {
				kept = append(kept, a)
				continue
			}
			if owner, ok := claimed[a]; ok && owner != name {
				continue // demoted: drop the duplicate special-use attr
			}
			claimed[a] = name
			kept = append(kept, a)
		}
		byFullName[name] = kept
	}
}

func isSpecialUseAttr(a folder.Attr) bool {
	switch a {
	case folder.AttrAll, folder.AttrArchive, folder.AttrDrafts, folder.AttrFlagged,
		folder.AttrJunk, folder.AttrSent, folder.AttrTrash:
		return true
	default:
		return false
	}
}

func sortedKeys(m map[string][]folder.Attr) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// insertion order from LIST is server-deterministic for a given
	// mailbox layout; a stable lexical sort makes demotion deterministic
	// even if the server ever reorders its response.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func lastSegment(fullName, delimiter string) string {
	if delimiter == "" {
		return fullName
	}
	idx := -1
	for i := len(fullName) - len(delimiter); i >= 0; i-- {
		if fullName[i:i+len(delimiter)] == delimiter {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fullName
	}
	return fullName[idx+len(delimiter):]
}
