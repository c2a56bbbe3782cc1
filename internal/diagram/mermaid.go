package diagram

import (
	"fmt"
	"strings"
)

var mermaidClasses = []string{
	"classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff",
	"classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff",
	"classDef running fill:#1a5276,stroke:#0e3a52,color:#fff",
	"classDef awaiting fill:#b7791a,stroke:#8a5c14,color:#fff",
	"classDef paused fill:#7d5a9e,stroke:#5a3f73,color:#fff",
	"classDef halted fill:#a04000,stroke:#6e2c00,color:#fff",
	"classDef cancelled fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5",
	"classDef pending fill:#6b6b6b,stroke:#4a4a4a,color:#fff",
}

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(node))
	}

	for _, edge := range model.Edges {
		arrow := "-->"
		switch edge.Kind {
		case EdgeGoto:
			arrow = "-.->"
		case EdgeHalt:
			arrow = "==>"
		}
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", mermaidEscapeLabel(edge.Label))
		}
		fmt.Fprintf(&b, "    %s %s%s %s\n", mermaidSafeID(edge.From), arrow, label, mermaidSafeID(edge.To))
	}

	b.WriteString("\n")
	for _, def := range mermaidClasses {
		fmt.Fprintf(&b, "    %s\n", def)
	}
	for _, node := range model.Nodes {
		if node.Status != nil && node.Status.Status != "" {
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(node.ID), node.Status.Status)
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := mermaidEscapeLabel(firstLine(node.Label))

	switch node.Kind {
	case NodeKindAsk:
		return fmt.Sprintf("%s[/%q/]", id, label)
	case NodeKindArtifact:
		return fmt.Sprintf("%s{{%q}}", id, label)
	case NodeKindHalt:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID replaces characters Mermaid does not accept in identifiers.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// mermaidEscapeLabel drops characters that break Mermaid label syntax.
func mermaidEscapeLabel(s string) string {
	r := strings.NewReplacer("|", "/", `"`, "'")
	return r.Replace(s)
}
