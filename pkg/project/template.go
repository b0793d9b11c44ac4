package project

// Defaults for freshly created projects.
const (
	DefaultMainFile    = "main.tex"
	DefaultCompiler    = "xelatex"
	DefaultProjectName = "New Project"
)

// DefaultMainContent seeds the main document of a new project.
const DefaultMainContent = `\documentclass[12pt,a4paper]{article}
\usepackage{amsmath,amssymb}
\usepackage{graphicx}
\usepackage{geometry}
\usepackage{hyperref}

\geometry{left=2.5cm,right=2.5cm,top=2.5cm,bottom=2.5cm}

\title{Untitled}
\author{}
\date{\today}

\begin{document}

\maketitle

\begin{abstract}
\end{abstract}

\section{Introduction}

\end{document}
`

// EmptyMainContent is the minimal template offered at project creation.
const EmptyMainContent = `\documentclass[12pt,a4paper]{article}

\begin{document}

\end{document}
`
