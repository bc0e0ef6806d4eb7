package stage

import (
	"context"

	"github.com/agentops/relay/internal/domain/deploy"
)

// Infra generates infrastructure files (Dockerfile, CI workflow, compose
// file, Kubernetes manifests) for the checked-out project based on its
// detected stack.
type Infra struct{}

// NewInfra creates the infrastructure generation stage.
func NewInfra() *Infra { return &Infra{} }

func (s *Infra) Name() string { return "architect" }

// OutputKeys lists the context keys this stage reports.
func (s *Infra) OutputKeys() []string {
	return []string{
		"infrastructure_files", "dockerfile", "ci_cd_config",
		"docker_compose", "kubernetes_manifests", "stack",
		"infrastructure_generated",
	}
}

func (s *Infra) Run(_ context.Context, c deploy.Context) (deploy.Context, error) {
	workdir := c.String(deploy.KeyWorkdir)
	analysis := Analyze(workdir)

	dockerfile := generateDockerfile(analysis)
	ci := generateCIPipeline(analysis)
	compose := generateCompose()

	files := map[string]string{
		"Dockerfile":               dockerfile,
		".github/workflows/ci.yml": ci,
		"docker-compose.yml":       compose,
		"k8s/manifests.yaml":       kubernetesManifests,
	}

	return c.Merge(map[string]any{
		"stack":                    analysis,
		"dockerfile":               dockerfile,
		"ci_cd_config":             ci,
		"docker_compose":           compose,
		"kubernetes_manifests":     kubernetesManifests,
		"infrastructure_files":     files,
		"infrastructure_generated": true,
	}), nil
}

func generateDockerfile(a Analysis) string {
	switch a.Primary() {
	case "node":
		return nodeDockerfile(a)
	case "go":
		return goDockerfile
	case "java":
		return javaDockerfile(a)
	case "ruby":
		return rubyDockerfile
	case "rust":
		return rustDockerfile
	case "php":
		return phpDockerfile
	default:
		return pythonDockerfile(a)
	}
}

func pythonDockerfile(a Analysis) string {
	d := `# Python Application Dockerfile
FROM python:3.11-slim

WORKDIR /app

RUN apt-get update && apt-get install -y \
    gcc \
    && rm -rf /var/lib/apt/lists/*

`
	switch {
	case a.hasPackageManager("poetry"):
		d += `RUN pip install poetry

COPY pyproject.toml poetry.lock* ./

RUN poetry config virtualenvs.create false && poetry install --no-dev

COPY . .

`
	case a.hasPackageManager("pipenv"):
		d += `RUN pip install pipenv

COPY Pipfile Pipfile.lock ./

RUN pipenv install --system --deploy

COPY . .

`
	default:
		d += `COPY requirements.txt .

RUN pip install --no-cache-dir -r requirements.txt

COPY . .

`
	}

	switch {
	case a.hasFramework("fastapi"):
		d += `CMD ["uvicorn", "main:app", "--host", "0.0.0.0", "--port", "8000"]`
	case a.hasFramework("flask"):
		d += `CMD ["python", "app.py"]`
	case a.hasFramework("django"):
		d += `CMD ["python", "manage.py", "runserver", "0.0.0.0:8000"]`
	default:
		d += `CMD ["python", "main.py"]`
	}
	return d
}

func nodeDockerfile(a Analysis) string {
	d := `# Node.js Application Dockerfile
FROM node:18-alpine

WORKDIR /app

COPY package*.json ./

RUN npm ci --only=production

COPY . .

`
	switch {
	case a.hasFramework("nextjs"):
		d += `RUN npm run build

EXPOSE 3000

CMD ["npm", "start"]`
	case a.hasFramework("react"), a.hasFramework("vue"), a.hasFramework("angular"):
		d += `RUN npm run build

FROM nginx:alpine
COPY --from=0 /app/build /usr/share/nginx/html
EXPOSE 80
CMD ["nginx", "-g", "daemon off;"]`
	default:
		d += `EXPOSE 3000

CMD ["node", "index.js"]`
	}
	return d
}

const goDockerfile = `# Go Application Dockerfile
FROM golang:1.21-alpine AS builder

WORKDIR /app

COPY go.mod go.sum ./

RUN go mod download

COPY . .

RUN CGO_ENABLED=0 GOOS=linux go build -o main .

FROM alpine:latest

RUN apk --no-cache add ca-certificates

WORKDIR /root/

COPY --from=builder /app/main .

EXPOSE 8080

CMD ["./main"]`

func javaDockerfile(a Analysis) string {
	if a.hasPackageManager("gradle") {
		return `# Java Application Dockerfile with Gradle
FROM gradle:8-jdk17 AS builder

WORKDIR /app

COPY build.gradle settings.gradle ./

RUN gradle dependencies --no-daemon

COPY src ./src

RUN gradle build --no-daemon

FROM openjdk:17-slim

WORKDIR /app

COPY --from=builder /app/build/libs/*.jar app.jar

EXPOSE 8080

CMD ["java", "-jar", "app.jar"]`
	}
	return `# Java Application Dockerfile with Maven
FROM maven:3.9-openjdk-17 AS builder

WORKDIR /app

COPY pom.xml .

RUN mvn dependency:go-offline

COPY src ./src

RUN mvn package -DskipTests

FROM openjdk:17-slim

WORKDIR /app

COPY --from=builder /app/target/*.jar app.jar

EXPOSE 8080

CMD ["java", "-jar", "app.jar"]`
}

const rubyDockerfile = `# Ruby Application Dockerfile
FROM ruby:3.2-slim

WORKDIR /app

RUN apt-get update && apt-get install -y \
    build-essential \
    && rm -rf /var/lib/apt/lists/*

COPY Gemfile Gemfile.lock ./

RUN bundle install

COPY . .

EXPOSE 3000

CMD ["ruby", "app.rb"]`

const rustDockerfile = `# Rust Application Dockerfile
FROM rust:1.73 AS builder

WORKDIR /app

COPY Cargo.toml Cargo.lock ./

RUN mkdir src && echo "fn main() {}" > src/main.rs
RUN cargo build --release
RUN rm -rf src

COPY src ./src

RUN touch src/main.rs
RUN cargo build --release

FROM debian:bookworm-slim

WORKDIR /app

COPY --from=builder /app/target/release/app /usr/local/bin/app

EXPOSE 8080

CMD ["app"]`

const phpDockerfile = `# PHP Application Dockerfile
FROM php:8.2-apache

WORKDIR /var/www/html

RUN docker-php-ext-install pdo pdo_mysql

RUN a2enmod rewrite

COPY . .

COPY --from=composer:latest /usr/bin/composer /usr/bin/composer
RUN composer install --no-dev --optimize-autoloader

EXPOSE 80

CMD ["apache2-foreground"]`

func generateCIPipeline(a Analysis) string {
	w := `name: CI/CD Pipeline

on:
  push:
    branches: [ main, develop ]
  pull_request:
    branches: [ main ]

jobs:
  test:
    runs-on: ubuntu-latest

    steps:
    - uses: actions/checkout@v3

`
	switch a.Primary() {
	case "node":
		w += `    - name: Set up Node.js
      uses: actions/setup-node@v3
      with:
        node-version: '18'
        cache: 'npm'

    - name: Install dependencies
      run: npm ci

    - name: Run tests
      run: npm test
`
	case "go":
		w += `    - name: Set up Go
      uses: actions/setup-go@v4
      with:
        go-version: '1.21'

    - name: Install dependencies
      run: go mod download

    - name: Run tests
      run: go test -v ./...
`
	default:
		w += `    - name: Set up Python
      uses: actions/setup-python@v4
      with:
        python-version: '3.11'

    - name: Install dependencies
      run: |
        python -m pip install --upgrade pip
        pip install -r requirements.txt
        pip install pytest pytest-cov

    - name: Run tests
      run: pytest --cov=./ --cov-report=xml
`
	}

	w += `
  build:
    needs: test
    runs-on: ubuntu-latest
    if: github.event_name == 'push'

    steps:
    - uses: actions/checkout@v3

    - name: Set up Docker Buildx
      uses: docker/setup-buildx-action@v2

    - name: Build and push Docker image
      uses: docker/build-push-action@v4
      with:
        context: .
        push: true
        tags: ${{ secrets.DOCKER_USERNAME }}/${{ github.event.repository.name }}:${{ github.sha }}
`
	return w
}

func generateCompose() string {
	return `version: '3.8'

services:
  app:
    build: .
    ports:
      - "8000:8000"
    environment:
      - DATABASE_URL=postgresql://user:password@db:5432/appdb
    depends_on:
      - db
      - redis
    restart: unless-stopped

  db:
    image: postgres:15-alpine
    environment:
      - POSTGRES_USER=user
      - POSTGRES_PASSWORD=password
      - POSTGRES_DB=appdb
    volumes:
      - postgres_data:/var/lib/postgresql/data
    restart: unless-stopped

  redis:
    image: redis:7-alpine
    restart: unless-stopped

volumes:
  postgres_data:
`
}

const kubernetesManifests = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: app-deployment
  labels:
    app: myapp
spec:
  replicas: 3
  selector:
    matchLabels:
      app: myapp
  template:
    metadata:
      labels:
        app: myapp
    spec:
      containers:
      - name: app
        image: myapp:latest
        ports:
        - containerPort: 8000
        env:
        - name: NODE_ENV
          value: "production"
        - name: DATABASE_URL
          valueFrom:
            secretKeyRef:
              name: app-secrets
              key: database-url
        resources:
          requests:
            memory: "256Mi"
            cpu: "250m"
          limits:
            memory: "512Mi"
            cpu: "500m"
---
apiVersion: v1
kind: Service
metadata:
  name: app-service
spec:
  selector:
    app: myapp
  ports:
    - protocol: TCP
      port: 80
      targetPort: 8000
  type: LoadBalancer
---
apiVersion: v1
kind: Secret
metadata:
  name: app-secrets
type: Opaque
stringData:
  database-url: "postgresql://user:password@db:5432/appdb"
---
apiVersion: autoscaling/v2
kind: HorizontalPodAutoscaler
metadata:
  name: app-hpa
spec:
  scaleTargetRef:
    apiVersion: apps/v1
    kind: Deployment
    name: app-deployment
  minReplicas: 2
  maxReplicas: 10
  metrics:
  - type: Resource
    resource:
      name: cpu
      target:
        type: Utilization
        averageUtilization: 70
  - type: Resource
    resource:
      name: memory
      target:
        type: Utilization
        averageUtilization: 80
`
