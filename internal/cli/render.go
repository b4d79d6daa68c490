package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"taskmatrix/board"
	"taskmatrix/domain"
)

const columnWidth = 30

var (
	columnStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			Width(columnWidth)

	doneColumnStyle = columnStyle.
			BorderForeground(lipgloss.Color("46"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	priorityStyles = map[domain.Priority]lipgloss.Style{
		domain.PriorityUrgent: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		domain.PriorityHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		domain.PriorityMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
		domain.PriorityLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("69")),
	}
)

// renderBoard draws the projection as side-by-side columns.
func renderBoard(w io.Writer, b domain.Board, p board.Projection, f board.Filter) {
	title := b.Name
	if title == "" {
		title = b.ID
	}
	header := headerStyle.Render(title)
	if active := describeFilter(f); active != "" {
		header += "  " + mutedStyle.Render(active)
	}

	cols := make([]string, 0, len(p.Columns))
	for _, c := range p.Columns {
		cols = append(cols, renderColumn(c, p.Bucket(c.ID)))
	}
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top, cols...))
	if len(p.Orphans) > 0 {
		fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%d task(s) reference columns not on this board", len(p.Orphans))))
	}
}

func renderColumn(c domain.Column, tasks []domain.Task) string {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render(fmt.Sprintf("%s (%d)", c.Title, len(tasks))))
	for _, t := range tasks {
		sb.WriteString("\n")
		sb.WriteString(renderCard(t, c.IsDone()))
	}
	if len(tasks) == 0 {
		sb.WriteString("\n")
		sb.WriteString(mutedStyle.Render("no tasks"))
	}
	style := columnStyle
	if c.IsDone() {
		style = doneColumnStyle
	}
	return style.Render(sb.String())
}

func renderCard(t domain.Task, locked bool) string {
	line := "• " + t.Title
	if locked {
		line = "✓ " + t.Title
	}
	if t.Priority != "" {
		line += " " + priorityStyles[t.Priority].Render("["+string(t.Priority)+"]")
	}
	return line + "\n  " + mutedStyle.Render(t.ID)
}

func describeFilter(f board.Filter) string {
	var parts []string
	if s := strings.TrimSpace(f.Search); s != "" {
		parts = append(parts, fmt.Sprintf("search=%q", s))
	}
	if f.Priority != "" && f.Priority != domain.PriorityAll {
		parts = append(parts, "priority="+string(f.Priority))
	}
	return strings.Join(parts, " ")
}

// renderTaskList prints one task per line, as used by my-tasks.
func renderTaskList(w io.Writer, tasks []domain.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No tasks."))
		return
	}
	for _, t := range tasks {
		status := string(t.Status)
		if status == "" {
			status = "-"
		}
		line := fmt.Sprintf("%-12s %s", status, t.Title)
		if t.DueDate != nil {
			line += mutedStyle.Render("  due " + t.DueDate.Format("2006-01-02"))
		}
		if t.Priority != "" {
			line += " " + priorityStyles[t.Priority].Render("["+string(t.Priority)+"]")
		}
		fmt.Fprintf(w, "%s  %s\n", line, mutedStyle.Render(t.ID))
	}
}

func renderProjects(w io.Writer, projects []domain.Project) {
	if len(projects) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No projects."))
		return
	}
	for _, p := range projects {
		done, total := p.Progress()
		status := p.Status
		if status == "" {
			status = "-"
		}
		fmt.Fprintf(w, "%s  %s  %s  milestones %d/%d\n", mutedStyle.Render(p.ID), headerStyle.Render(p.Name), status, done, total)
	}
}
